package corpus

import (
	"path"
	"sort"
	"strings"

	"remedy/internal/failure"
	"remedy/internal/logging"
)

// DefaultPrefixLen is how much of a traceback key enters the index bucket.
// Full keys are long and brittle; a bounded prefix keeps related traces in
// the same bucket.
const DefaultPrefixLen = 40

// Index is the multi-dimension hash index over a defect corpus. Each
// dimension maps a normalized key to the records carrying it. Once built an
// index is never mutated, so concurrent lookups need no locking.
type Index struct {
	prefixLen int

	records []DefectRecord
	byID    map[string]int

	byErrorKind map[string][]int
	byTraceKey  map[string][]int
	byAPI       map[string][]int
	byFile      map[string][]int
}

// NewIndex builds an index over records. A prefixLen of zero or less uses
// DefaultPrefixLen.
func NewIndex(records []DefectRecord, prefixLen int) *Index {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	idx := &Index{
		prefixLen:   prefixLen,
		records:     records,
		byID:        make(map[string]int, len(records)),
		byErrorKind: make(map[string][]int),
		byTraceKey:  make(map[string][]int),
		byAPI:       make(map[string][]int),
		byFile:      make(map[string][]int),
	}
	for i, r := range records {
		idx.byID[r.ID] = i
		if r.ErrorKind != "" {
			k := normKey(r.ErrorKind)
			idx.byErrorKind[k] = append(idx.byErrorKind[k], i)
		}
		if r.TracebackKey != "" {
			k := idx.tracePrefix(r.TracebackKey)
			idx.byTraceKey[k] = append(idx.byTraceKey[k], i)
		}
		for _, api := range r.APIImpacted {
			if api == "" {
				continue
			}
			k := normKey(api)
			idx.byAPI[k] = append(idx.byAPI[k], i)
		}
		for _, f := range r.ModifiedFiles {
			if f == "" {
				continue
			}
			k := normKey(path.Base(f))
			idx.byFile[k] = append(idx.byFile[k], i)
		}
	}
	logging.Corpus("indexed %d records across %d kinds, %d trace buckets, %d apis, %d files",
		len(records), len(idx.byErrorKind), len(idx.byTraceKey), len(idx.byAPI), len(idx.byFile))
	return idx
}

// Len returns the number of indexed records.
func (idx *Index) Len() int { return len(idx.records) }

// Record returns the indexed record with the given id, or nil.
func (idx *Index) Record(id string) *DefectRecord {
	i, ok := idx.byID[id]
	if !ok {
		return nil
	}
	return &idx.records[i]
}

// Query returns every record sharing at least one dimension with the failure,
// ordered by id. It unions the per-dimension buckets without scoring; an
// empty result is a valid answer and never an error.
func (idx *Index) Query(f *failure.Record) []*DefectRecord {
	if f == nil {
		return nil
	}
	hits := make(map[int]bool)
	collect := func(ids []int) {
		for _, i := range ids {
			hits[i] = true
		}
	}

	if f.ErrorKind != "" && f.ErrorKind != failure.KindUnknown {
		collect(idx.byErrorKind[normKey(f.ErrorKind)])
	}
	if f.TracebackKey != "" {
		collect(idx.byTraceKey[idx.tracePrefix(f.TracebackKey)])
	}
	if f.AffectedInterface != "" {
		collect(idx.byAPI[normKey(f.AffectedInterface)])
	}
	if f.Location != nil && f.Location.Path != "" {
		collect(idx.byFile[normKey(path.Base(f.Location.Path))])
	}

	if len(hits) == 0 {
		logging.CorpusDebug("query for case %s hit no dimension", f.CaseID)
		return nil
	}
	ids := make([]int, 0, len(hits))
	for i := range hits {
		ids = append(ids, i)
	}
	sort.Ints(ids)

	out := make([]*DefectRecord, len(ids))
	for n, i := range ids {
		out[n] = &idx.records[i]
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	logging.CorpusDebug("query for case %s: %d candidates", f.CaseID, len(out))
	return out
}

func (idx *Index) tracePrefix(key string) string {
	k := normKey(key)
	if len(k) > idx.prefixLen {
		k = k[:idx.prefixLen]
	}
	return k
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
