// Package rank orders defect candidates against a failure record by weighted
// dimension overlap. The index layer favors recall; this layer supplies the
// precision, with deterministic ordering all the way down.
package rank

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"remedy/internal/corpus"
	"remedy/internal/failure"
	"remedy/internal/logging"
)

// Dimension weights. They sum to 1.0; environment acts as a hard filter
// first, so every candidate that gets scored at all carries its weight.
const (
	WeightErrorKind   = 0.35
	WeightTraceback   = 0.30
	WeightAPI         = 0.15
	WeightFile        = 0.10
	WeightEnvironment = 0.10
)

// DefaultTopK bounds how many matches a ranking returns.
const DefaultTopK = 5

// Match is one ranked candidate.
type Match struct {
	DefectID   string   `json:"defect_id"`
	Score      float64  `json:"score"`
	Dimensions []string `json:"dimensions"`
	Rationale  string   `json:"rationale"`
}

// Ranker scores candidates. The zero value is usable with defaults.
type Ranker struct {
	// TopK bounds result length. Zero means DefaultTopK.
	TopK int
	// MinScore drops matches scoring below it.
	MinScore float64
	// PrefixLen is the traceback prefix length used for the traceback
	// dimension. Zero means corpus.DefaultPrefixLen.
	PrefixLen int
}

// Rank scores every candidate against the failure and returns the top
// matches, best first. Ties break on ascending defect id so equal inputs
// always rank identically. Environment-incompatible candidates are excluded
// outright.
func (r *Ranker) Rank(f *failure.Record, candidates []*corpus.DefectRecord) []Match {
	if f == nil || len(candidates) == 0 {
		return nil
	}
	topK := r.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	prefixLen := r.PrefixLen
	if prefixLen <= 0 {
		prefixLen = corpus.DefaultPrefixLen
	}

	var matches []Match
	for _, c := range candidates {
		ok, checked := compatible(f.Environment, compatSpec{
			Runtime: c.Compat.Runtime,
			OS:      c.Compat.OS,
			Deps:    c.Compat.Deps,
		})
		if !ok {
			logging.RankDebug("case %s: %s excluded, environment incompatible", f.CaseID, c.ID)
			continue
		}

		m := Match{DefectID: c.ID}
		var notes []string

		if f.ErrorKind != "" && f.ErrorKind != failure.KindUnknown &&
			strings.EqualFold(f.ErrorKind, c.ErrorKind) {
			m.Score += WeightErrorKind
			m.Dimensions = append(m.Dimensions, "errorKind")
			notes = append(notes, "same error kind "+c.ErrorKind)
		}
		if tracePrefixMatch(f.TracebackKey, c.TracebackKey, prefixLen) {
			m.Score += WeightTraceback
			m.Dimensions = append(m.Dimensions, "tracebackKey")
			notes = append(notes, "traceback prefix overlap")
		}
		if api := apiOverlap(f.AffectedInterface, c.APIImpacted); api != "" {
			m.Score += WeightAPI
			m.Dimensions = append(m.Dimensions, "apiImpacted")
			notes = append(notes, "touches api "+api)
		}
		if file := fileOverlap(f.Location, c.ModifiedFiles); file != "" {
			m.Score += WeightFile
			m.Dimensions = append(m.Dimensions, "modifiedFiles")
			notes = append(notes, "modifies "+file)
		}
		// Every survivor of the hard filter is environment-compatible,
		// by verification or by absence of contrary evidence.
		m.Score += WeightEnvironment
		m.Dimensions = append(m.Dimensions, "environment")
		if checked {
			notes = append(notes, "environment verified compatible")
		} else {
			notes = append(notes, "no environment conflict")
		}

		// Environment alone is not evidence of relevance.
		if len(m.Dimensions) == 1 || m.Score < r.MinScore {
			continue
		}
		m.Rationale = strings.Join(notes, "; ")
		matches = append(matches, m)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DefectID < matches[j].DefectID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	logging.Rank("case %s: ranked %d candidates to %d matches", f.CaseID, len(candidates), len(matches))
	return matches
}

// tracePrefixMatch requires the full configured prefix length to agree.
// Keys shorter than the prefix only count when they are identical complete
// signatures; a short partial overlap is too weak to score.
func tracePrefixMatch(fk, ck string, prefixLen int) bool {
	fk = strings.ToLower(strings.TrimSpace(fk))
	ck = strings.ToLower(strings.TrimSpace(ck))
	if fk == "" || ck == "" {
		return false
	}
	if fk == ck {
		return true
	}
	if len(fk) < prefixLen || len(ck) < prefixLen {
		return false
	}
	return fk[:prefixLen] == ck[:prefixLen]
}

func apiOverlap(affected string, impacted []string) string {
	if affected == "" {
		return ""
	}
	for _, api := range impacted {
		if strings.EqualFold(api, affected) {
			return api
		}
		// QuerySet.filter matches a failure in filter.
		if i := strings.LastIndex(api, "."); i >= 0 && strings.EqualFold(api[i+1:], affected) {
			return api
		}
	}
	return ""
}

func fileOverlap(loc *failure.Location, modified []string) string {
	if loc == nil || loc.Path == "" {
		return ""
	}
	base := strings.ToLower(path.Base(loc.Path))
	for _, f := range modified {
		if strings.ToLower(path.Base(f)) == base {
			return f
		}
	}
	return ""
}

// Explain renders a match list for logs and reports.
func Explain(matches []Match) string {
	if len(matches) == 0 {
		return "no matches"
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("%s=%.2f[%s]", m.DefectID, m.Score, strings.Join(m.Dimensions, ","))
	}
	return strings.Join(parts, " ")
}
