// Package report assembles the machine-readable outcome of a repair run and
// persists it for later inspection.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"remedy/internal/failure"
	"remedy/internal/logging"
	"remedy/internal/orchestrate"
	"remedy/internal/patch"
)

// SecurityFlag marks a failure whose error kind has a security dimension.
type SecurityFlag struct {
	CaseID    string `json:"case_id"`
	ErrorKind string `json:"error_kind"`
}

// CaseOutcome summarizes what happened to one failing case.
type CaseOutcome struct {
	CaseID   string  `json:"case_id"`
	Strategy string  `json:"strategy"` // guided, fallback, none
	DefectID string  `json:"defect_id,omitempty"`
	Score    float64 `json:"score,omitempty"`
	// Attempts counts guided adaptation attempts made for the case.
	Attempts int `json:"attempts,omitempty"`
}

// Summary is the full report of one repair run.
type Summary struct {
	RunID          string              `json:"run_id"`
	RepoRoot       string              `json:"repo_root"`
	Started        time.Time           `json:"started"`
	Duration       time.Duration       `json:"duration_ns"`
	Budget         time.Duration       `json:"budget_ns"`
	TerminalReason string              `json:"terminal_reason"`
	TotalCases     int                 `json:"total_cases"`
	FailedCases    int                 `json:"failed_cases"`
	Cases          []CaseOutcome       `json:"cases,omitempty"`
	AppliedPatches []patch.Applied     `json:"applied_patches,omitempty"`
	SecurityFlags  []SecurityFlag      `json:"security_flags,omitempty"`
	Ambiguities    []failure.Ambiguity `json:"ambiguities,omitempty"`
	Events         []orchestrate.Event `json:"events"`
}

// Succeeded reports whether the run ended with all tests passing.
func (s *Summary) Succeeded() bool {
	return s.TerminalReason == orchestrate.ReasonSuccess
}

// Build assembles a summary from the final run state.
func Build(st *orchestrate.RunState) *Summary {
	s := &Summary{
		RunID:          st.RunID,
		RepoRoot:       st.RepoRoot,
		Started:        st.Started,
		Duration:       time.Since(st.Started),
		Budget:         st.Budget,
		TerminalReason: st.TerminalReason,
		TotalCases:     st.TotalCases,
		FailedCases:    st.FailedCases,
		AppliedPatches: st.AppliedPatches,
		Ambiguities:    st.Ambiguities,
		Events:         st.Events,
	}

	applied := make(map[string]bool, len(st.AppliedPatches))
	for _, p := range st.AppliedPatches {
		if p.DefectID != "" {
			applied[p.DefectID] = true
		}
	}

	for _, f := range st.Failures {
		if failure.IsSecurityKind(f.ErrorKind) {
			s.SecurityFlags = append(s.SecurityFlags, SecurityFlag{
				CaseID:    f.CaseID,
				ErrorKind: f.ErrorKind,
			})
		}

		outcome := CaseOutcome{
			CaseID:   f.CaseID,
			Strategy: "none",
			Attempts: st.AttemptsPerCase[f.CaseID],
		}
		switch {
		case st.GuidedCases[f.CaseID]:
			outcome.Strategy = "guided"
			// The applied candidate is not always the top-ranked one.
			for _, m := range st.Matches[f.CaseID] {
				if applied[m.DefectID] {
					outcome.DefectID = m.DefectID
					outcome.Score = m.Score
					break
				}
			}
		case st.FallbackCases[f.CaseID]:
			outcome.Strategy = "fallback"
		}
		s.Cases = append(s.Cases, outcome)
	}
	return s
}

// Sink persists summaries.
type Sink interface {
	Write(ctx context.Context, s *Summary) (string, error)
}

// FileSink writes one JSON file per run under a directory.
type FileSink struct {
	Dir string
}

// NewFileSink returns a sink rooted at dir, conventionally .remedy/runs.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Write implements Sink and returns the path written.
func (fs *FileSink) Write(ctx context.Context, s *Summary) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(fs.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	path := filepath.Join(fs.Dir, s.RunID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	logging.Report("wrote %s (%s, %d/%d cases failing)", path, s.TerminalReason, s.FailedCases, s.TotalCases)
	return path, nil
}
