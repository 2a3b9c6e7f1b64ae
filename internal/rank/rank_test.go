package rank

import (
	"math"
	"testing"

	"remedy/internal/corpus"
	"remedy/internal/failure"
)

func rec(id, kind, trace string, apis, files []string) *corpus.DefectRecord {
	return &corpus.DefectRecord{
		ID: id, Project: "p", ErrorKind: kind, TracebackKey: trace,
		APIImpacted: apis, ModifiedFiles: files, PatchRef: "r",
	}
}

func TestRank_WeightsAndOrder(t *testing.T) {
	f := &failure.Record{
		CaseID:            "c1",
		ErrorKind:         failure.KindNullReference,
		TracebackKey:      "db.py:connect>pool.py:acquire",
		AffectedInterface: "connect",
		Location:          &failure.Location{Path: "src/db.py"},
	}

	full := rec("p__full", failure.KindNullReference, "db.py:connect>pool.py:acquire",
		[]string{"Pool.connect"}, []string{"lib/db.py"})
	kindOnly := rec("p__kind", failure.KindNullReference, "other.py:thing", nil, nil)
	traceOnly := rec("p__trace", failure.KindTimeout, "db.py:connect>pool.py:acquire", nil, nil)

	matches := (&Ranker{}).Rank(f, []*corpus.DefectRecord{kindOnly, traceOnly, full})
	if len(matches) != 3 {
		t.Fatalf("match count = %d, want 3: %s", len(matches), Explain(matches))
	}
	if matches[0].DefectID != "p__full" {
		t.Errorf("best match = %s, want p__full", matches[0].DefectID)
	}
	wantFull := WeightErrorKind + WeightTraceback + WeightAPI + WeightFile + WeightEnvironment
	if math.Abs(matches[0].Score-wantFull) > 1e-9 {
		t.Errorf("full score = %.3f, want %.3f", matches[0].Score, wantFull)
	}
	// errorKind carries more weight than the traceback prefix.
	if matches[1].DefectID != "p__kind" {
		t.Errorf("second match = %s, want p__kind", matches[1].DefectID)
	}
	if matches[0].Rationale == "" {
		t.Error("best match has empty rationale")
	}
}

func TestRank_TiesBreakOnID(t *testing.T) {
	f := &failure.Record{CaseID: "c", ErrorKind: failure.KindTimeout}
	a := rec("p__aaa", failure.KindTimeout, "", nil, nil)
	b := rec("p__bbb", failure.KindTimeout, "", nil, nil)

	got := (&Ranker{}).Rank(f, []*corpus.DefectRecord{b, a})
	if len(got) != 2 || got[0].DefectID != "p__aaa" || got[1].DefectID != "p__bbb" {
		t.Errorf("tied order = %s, want aaa before bbb", Explain(got))
	}
}

func TestRank_Deterministic(t *testing.T) {
	f := &failure.Record{
		CaseID: "c", ErrorKind: failure.KindAssertionMismatch,
		TracebackKey: "a.py:run",
	}
	cands := []*corpus.DefectRecord{
		rec("p__1", failure.KindAssertionMismatch, "a.py:run", nil, nil),
		rec("p__2", failure.KindAssertionMismatch, "b.py:run", nil, nil),
		rec("p__3", failure.KindTimeout, "a.py:run", nil, nil),
	}
	r := &Ranker{}
	first := Explain(r.Rank(f, cands))
	for i := 0; i < 10; i++ {
		if got := Explain(r.Rank(f, cands)); got != first {
			t.Fatalf("ranking diverged on run %d: %s vs %s", i, got, first)
		}
	}
}

func TestRank_TopK(t *testing.T) {
	f := &failure.Record{CaseID: "c", ErrorKind: failure.KindTimeout}
	var cands []*corpus.DefectRecord
	for _, id := range []string{"p__1", "p__2", "p__3", "p__4", "p__5", "p__6", "p__7"} {
		cands = append(cands, rec(id, failure.KindTimeout, "", nil, nil))
	}
	if got := (&Ranker{}).Rank(f, cands); len(got) != DefaultTopK {
		t.Errorf("match count = %d, want default top %d", len(got), DefaultTopK)
	}
	if got := (&Ranker{TopK: 2}).Rank(f, cands); len(got) != 2 {
		t.Errorf("match count = %d, want 2", len(got))
	}
}

func TestRank_EnvironmentHardFilter(t *testing.T) {
	f := &failure.Record{
		CaseID:       "c",
		ErrorKind:    failure.KindNullReference,
		TracebackKey: "db.py:connect",
		Environment:  map[string]string{"runtime": "3.7.2", "os": "linux"},
	}

	incompatible := rec("p__new", failure.KindNullReference, "db.py:connect", nil, nil)
	incompatible.Compat.Runtime = ">=3.8"
	wrongOS := rec("p__win", failure.KindNullReference, "db.py:connect", nil, nil)
	wrongOS.Compat.OS = []string{"windows"}
	fits := rec("p__old", failure.KindNullReference, "db.py:connect", nil, nil)
	fits.Compat.Runtime = ">=3.6 <3.8"

	got := (&Ranker{}).Rank(f, []*corpus.DefectRecord{incompatible, wrongOS, fits})
	if len(got) != 1 || got[0].DefectID != "p__old" {
		t.Fatalf("matches = %s, want only p__old", Explain(got))
	}
}

func TestRank_UnknownEnvironmentPassesFilter(t *testing.T) {
	f := &failure.Record{
		CaseID:       "c",
		ErrorKind:    failure.KindTimeout,
		TracebackKey: "a.py:x",
		// No environment info at all.
	}
	constrained := rec("p__c", failure.KindTimeout, "a.py:x", nil, nil)
	constrained.Compat.Runtime = ">=3.8"
	constrained.Compat.Deps = map[string]string{"django": ">=4.0"}

	got := (&Ranker{}).Rank(f, []*corpus.DefectRecord{constrained})
	if len(got) != 1 {
		t.Fatalf("matches = %s, want constrained candidate kept", Explain(got))
	}
}

func TestRank_ShortTraceKeysMatchOnlyWhenEqual(t *testing.T) {
	// Keys shorter than the configured prefix earn the traceback weight
	// only as identical complete signatures; one being a prefix of the
	// other is not enough.
	f := &failure.Record{
		CaseID:       "c",
		ErrorKind:    failure.KindTimeout,
		TracebackKey: "a.py:run",
	}
	exact := rec("p__exact", failure.KindTimeout, "a.py:run", nil, nil)
	longer := rec("p__longer", failure.KindTimeout, "a.py:run>b.py:go", nil, nil)

	got := (&Ranker{}).Rank(f, []*corpus.DefectRecord{longer, exact})
	if len(got) != 2 || got[0].DefectID != "p__exact" {
		t.Fatalf("matches = %s, want p__exact first", Explain(got))
	}
	if math.Abs(got[0].Score-got[1].Score-WeightTraceback) > 1e-9 {
		t.Errorf("score gap = %.3f, want the traceback weight %.2f",
			got[0].Score-got[1].Score, WeightTraceback)
	}
}

func TestRank_EnvironmentAloneIsNoMatch(t *testing.T) {
	f := &failure.Record{
		CaseID:    "c",
		ErrorKind: failure.KindUnknown,
	}
	stranger := rec("p__s", failure.KindTimeout, "z.py:zz", nil, nil)
	if got := (&Ranker{}).Rank(f, []*corpus.DefectRecord{stranger}); len(got) != 0 {
		t.Errorf("matches = %s, want none", Explain(got))
	}
}

func TestVersionSatisfies(t *testing.T) {
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"3.9.1", ">=3.8", true},
		{"3.7.0", ">=3.8", false},
		{"3.9.1", ">=3.8 <4.0", true},
		{"4.1.0", ">=3.8 <4.0", false},
		{"go1.24", ">=1.21", true},
		{"python3.10", "3.10", true},
		{"3.10.2", "3.10", false}, // exact means exact
		{"weird-version", ">=3.8", true},
		{"3.9", "garbage", true},
	}
	for _, tt := range tests {
		if got := versionSatisfies(tt.version, tt.constraint); got != tt.want {
			t.Errorf("versionSatisfies(%q, %q) = %v, want %v", tt.version, tt.constraint, got, tt.want)
		}
	}
}
