package report

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"remedy/internal/failure"
	"remedy/internal/orchestrate"
	"remedy/internal/patch"
	"remedy/internal/rank"
)

func sampleState() *orchestrate.RunState {
	return &orchestrate.RunState{
		RunID:          "run-test01",
		RepoRoot:       "/repo",
		Phase:          orchestrate.PhaseDone,
		Started:        time.Now().Add(-time.Minute),
		Budget:         15 * time.Minute,
		TerminalReason: orchestrate.ReasonSuccess,
		TotalCases:     4,
		FailedCases:    0,
		Failures: []failure.Record{
			{CaseID: "t_sql", ErrorKind: failure.KindSQLInjection},
			{CaseID: "t_null", ErrorKind: failure.KindNullReference},
			{CaseID: "t_odd", ErrorKind: failure.KindUnknown},
		},
		Matches: map[string][]rank.Match{
			"t_sql":  {{DefectID: "p__best", Score: 0.9}, {DefectID: "p__used", Score: 0.7}},
			"t_null": {{DefectID: "p__other", Score: 0.5}},
		},
		GuidedCases:     map[string]bool{"t_sql": true},
		FallbackCases:   map[string]bool{"t_null": true},
		AttemptsPerCase: map[string]int{"t_sql": 2},
		AppliedPatches: []patch.Applied{
			{DefectID: "p__used", Files: []patch.AppliedFile{{Path: "a.py"}}},
		},
	}
}

func TestBuild(t *testing.T) {
	s := Build(sampleState())

	if !s.Succeeded() {
		t.Error("Succeeded() = false for a success reason")
	}
	if len(s.SecurityFlags) != 1 || s.SecurityFlags[0].CaseID != "t_sql" {
		t.Errorf("security flags = %+v, want one for t_sql", s.SecurityFlags)
	}

	byCase := make(map[string]CaseOutcome)
	for _, c := range s.Cases {
		byCase[c.CaseID] = c
	}
	if got := byCase["t_sql"]; got.Strategy != "guided" || got.DefectID != "p__used" {
		t.Errorf("t_sql outcome = %+v, want guided via p__used (the applied candidate)", got)
	}
	if got := byCase["t_sql"]; got.Attempts != 2 {
		t.Errorf("t_sql attempts = %d, want 2", got.Attempts)
	}
	if got := byCase["t_null"]; got.Strategy != "fallback" {
		t.Errorf("t_null outcome = %+v, want fallback", got)
	}
	if got := byCase["t_odd"]; got.Strategy != "none" {
		t.Errorf("t_odd outcome = %+v, want none", got)
	}
}

func TestFileSink_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	s := Build(sampleState())

	path, err := NewFileSink(dir).Write(context.Background(), s)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded Summary
	if err := json.Unmarshal(raw, &loaded); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if loaded.RunID != "run-test01" || loaded.TerminalReason != orchestrate.ReasonSuccess {
		t.Errorf("loaded = %+v", loaded)
	}
	if diff := cmp.Diff(s.Cases, loaded.Cases); diff != "" {
		t.Errorf("case outcomes changed across the round trip (-written +loaded):\n%s", diff)
	}
}

func TestFileSink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileSink(t.TempDir()).Write(ctx, Build(sampleState())); err == nil {
		t.Error("Write succeeded with cancelled context")
	}
}
