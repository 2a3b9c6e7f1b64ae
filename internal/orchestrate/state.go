package orchestrate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"remedy/internal/failure"
	"remedy/internal/logging"
	"remedy/internal/patch"
	"remedy/internal/rank"
)

// Event is one recorded phase transition.
type Event struct {
	At   time.Time `json:"at"`
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	Note string    `json:"note,omitempty"`
}

// RunState is everything a repair run accumulates. One RunState belongs to
// one goroutine; the parallel MATCH phase merges its results in after the
// workers join.
type RunState struct {
	RunID    string    `json:"run_id"`
	RepoRoot string    `json:"repo_root"`
	Phase    Phase     `json:"phase"`
	Started  time.Time `json:"started"`
	Deadline time.Time `json:"deadline"`
	Budget   time.Duration `json:"budget_ns"`

	TotalCases  int `json:"total_cases"`
	FailedCases int `json:"failed_cases"`

	Failures    []failure.Record      `json:"failures,omitempty"`
	Ambiguities []failure.Ambiguity   `json:"ambiguities,omitempty"`
	Matches     map[string][]rank.Match `json:"matches,omitempty"`

	// GuidedCases marks cases that received a guided patch this run. Once
	// fallback starts, guided matching never resumes for them.
	GuidedCases map[string]bool `json:"guided_cases,omitempty"`
	// FallbackCases marks cases handed to the unguided agent.
	FallbackCases map[string]bool `json:"fallback_cases,omitempty"`
	// AttemptsPerCase counts guided adaptation attempts per case. Counts
	// only grow and never pass the configured per-case candidate bound.
	AttemptsPerCase map[string]int `json:"attempts_per_case,omitempty"`

	AppliedPatches []patch.Applied `json:"applied_patches,omitempty"`
	FallbackDiff   string          `json:"fallback_diff,omitempty"`

	TerminalReason string  `json:"terminal_reason,omitempty"`
	Events         []Event `json:"events"`
}

// newRunState starts the clock on a fresh run.
func newRunState(repoRoot string, budget time.Duration) *RunState {
	now := time.Now()
	return &RunState{
		RunID:         "run-" + uuid.New().String()[:8],
		RepoRoot:      repoRoot,
		Phase:         PhaseAnalyze,
		Started:       now,
		Deadline:      now.Add(budget),
		Budget:        budget,
		Matches:         make(map[string][]rank.Match),
		GuidedCases:     make(map[string]bool),
		FallbackCases:   make(map[string]bool),
		AttemptsPerCase: make(map[string]int),
	}
}

// advance moves the run to the next phase, checking the budget first. When
// the budget is gone it forces DONE and returns the budget error; the caller
// stops immediately.
func (st *RunState) advance(to Phase, note string) error {
	if to != PhaseDone && time.Now().After(st.Deadline) {
		err := &BudgetExceededError{Phase: to, Elapsed: time.Since(st.Started), Budget: st.Budget}
		st.record(PhaseDone, ReasonBudgetExceeded)
		st.TerminalReason = ReasonBudgetExceeded
		logging.OrchestrateWarn("%s: %v", st.RunID, err)
		return err
	}
	if !canTransition(st.Phase, to) {
		return fmt.Errorf("invalid transition %s -> %s", st.Phase, to)
	}
	st.record(to, note)
	return nil
}

// finish marks the run terminal.
func (st *RunState) finish(reason string) {
	if st.Phase != PhaseDone {
		st.record(PhaseDone, reason)
	}
	st.TerminalReason = reason
	logging.Orchestrate("%s: done (%s) after %s", st.RunID, reason, time.Since(st.Started).Round(time.Millisecond))
}

func (st *RunState) record(to Phase, note string) {
	st.Events = append(st.Events, Event{At: time.Now(), From: st.Phase, To: to, Note: note})
	logging.Orchestrate("%s: %s -> %s %s", st.RunID, st.Phase, to, note)
	st.Phase = to
}

// Remaining returns how much budget is left.
func (st *RunState) Remaining() time.Duration {
	return time.Until(st.Deadline)
}
