// Package runner generates and executes test artifact sets against a target
// repository. Execution is the only place the repair workflow shells out, and
// every invocation is cancellable through its context.
package runner

import "time"

// CaseSpec is one executable test case inside an artifact set.
type CaseSpec struct {
	ID         string `yaml:"id" json:"id"`
	Command    string `yaml:"command" json:"command"`
	TimeoutSec int    `yaml:"timeout_sec,omitempty" json:"timeout_sec,omitempty"`
}

// ArtifactSet is a versioned battery of test cases. Case IDs are unique
// within a set.
type ArtifactSet struct {
	ID      string     `yaml:"id" json:"id"`
	Version int        `yaml:"version" json:"version"`
	Cases   []CaseSpec `yaml:"cases" json:"cases"`
}

// Case execution statuses. "errored" means the command could not run at all,
// as opposed to running and failing.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusErrored = "errored"
)

// CaseResult is the raw outcome of one executed case.
type CaseResult struct {
	CaseID   string        `json:"case_id"`
	Status   string        `json:"status"`
	Passed   bool          `json:"passed"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"` // interleaved stdout and stderr
	Duration time.Duration `json:"duration_ns"`
}

// RawOutput is the raw textual and structural result of one full test pass.
// It is valid even when execution was cancelled partway; Interrupted marks
// that case.
type RawOutput struct {
	ArtifactSetID string       `json:"artifact_set_id"`
	Cases         []CaseResult `json:"cases"`
	Started       time.Time    `json:"started"`
	Completed     time.Time    `json:"completed"`
	Interrupted   bool         `json:"interrupted"`
}

// Failures returns the results for cases that did not pass.
func (o *RawOutput) Failures() []CaseResult {
	var out []CaseResult
	for _, c := range o.Cases {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// AllPassed reports whether every case in the run passed. An interrupted run
// never counts as fully passing.
func (o *RawOutput) AllPassed() bool {
	if o.Interrupted || len(o.Cases) == 0 {
		return false
	}
	for _, c := range o.Cases {
		if !c.Passed {
			return false
		}
	}
	return true
}
