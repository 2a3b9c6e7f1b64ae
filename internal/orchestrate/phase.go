// Package orchestrate drives one bounded repair run through its phases:
// analyze the repository, generate and execute tests, diagnose failures,
// match them against the defect corpus, apply guided patches, retest, and
// fall back to unguided repair when guidance runs out. The wall-clock budget
// is checked before every phase transition and wins every argument.
package orchestrate

import (
	"fmt"
	"time"
)

// Phase is one stage of a repair run.
type Phase string

const (
	PhaseAnalyze     Phase = "ANALYZE"
	PhaseGenerate    Phase = "GENERATE"
	PhaseExecute     Phase = "EXECUTE"
	PhaseDiagnose    Phase = "DIAGNOSE"
	PhaseMatch       Phase = "MATCH"
	PhaseApplyGuided Phase = "APPLY_GUIDED"
	PhaseRetest      Phase = "RETEST"
	PhaseFallback    Phase = "FALLBACK"
	PhaseRetestFinal Phase = "RETEST_FINAL"
	PhaseDone        Phase = "DONE"
)

// Terminal reasons.
const (
	ReasonSuccess        = "success"
	ReasonBudgetExceeded = "budget_exceeded"
	ReasonUnresolved     = "unresolved"
	ReasonScanFailed     = "scan_failed"
)

// validNext lists the transitions the machine may take. The budget check can
// additionally force any phase straight to DONE.
var validNext = map[Phase][]Phase{
	PhaseAnalyze:     {PhaseGenerate},
	PhaseGenerate:    {PhaseExecute},
	PhaseExecute:     {PhaseDone, PhaseDiagnose},
	PhaseDiagnose:    {PhaseMatch},
	PhaseMatch:       {PhaseApplyGuided, PhaseFallback},
	PhaseApplyGuided: {PhaseRetest},
	PhaseRetest:      {PhaseDone, PhaseFallback},
	PhaseFallback:    {PhaseRetestFinal},
	PhaseRetestFinal: {PhaseDone},
	PhaseDone:        {},
}

// canTransition reports whether from may move to to.
func canTransition(from, to Phase) bool {
	if to == PhaseDone {
		// The budget check may cut a run short from anywhere.
		return true
	}
	for _, n := range validNext[from] {
		if n == to {
			return true
		}
	}
	return false
}

// BudgetExceededError marks a run stopped by its wall-clock ceiling.
type BudgetExceededError struct {
	Phase   Phase
	Elapsed time.Duration
	Budget  time.Duration
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget of %s exceeded after %s while entering %s", e.Budget, e.Elapsed, e.Phase)
}
