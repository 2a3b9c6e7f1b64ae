package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"remedy/internal/agent"
	"remedy/internal/corpus"
	"remedy/internal/failure"
	"remedy/internal/logging"
	"remedy/internal/patch"
	"remedy/internal/rank"
	"remedy/internal/runner"
	"remedy/internal/scan"
)

// matchWorkers bounds the parallel ranking fan-out.
const matchWorkers = 8

// Orchestrator wires the repair pipeline together. All dependencies are
// interfaces or handles owned by the caller; the orchestrator itself holds
// no state between runs.
type Orchestrator struct {
	Scanner   scan.Scanner
	Generator runner.Generator
	Runner    runner.Runner
	Extractor *failure.Extractor
	Index     *corpus.Index
	Bodies    corpus.BodyStore
	Ranker    *rank.Ranker
	Adapter   *patch.Adapter
	// Agent may be nil; the fallback phase then does nothing.
	Agent agent.Agent

	// Budget is the wall-clock ceiling for one run.
	Budget time.Duration
	// MaxCandidatesPerCase bounds how many ranked patches one failing case
	// may try. Zero means every ranked match.
	MaxCandidatesPerCase int
}

// Run drives one repair run to completion. A run that exhausts its budget or
// ends with tests still failing is a normal outcome, reported through the
// returned state; only infrastructure failures (scan, generation, execution)
// come back as errors.
func (o *Orchestrator) Run(ctx context.Context, repoRoot string) (*RunState, error) {
	budget := o.Budget
	if budget <= 0 {
		budget = 15 * time.Minute
	}
	st := newRunState(repoRoot, budget)
	logging.Orchestrate("%s: starting against %s with budget %s", st.RunID, repoRoot, budget)

	runCtx, cancel := context.WithDeadline(ctx, st.Deadline)
	defer cancel()

	// ANALYZE
	structural, err := o.Scanner.Scan(runCtx, repoRoot)
	if err != nil {
		st.finish(ReasonScanFailed)
		return st, err
	}
	repoPaths := structural.Paths()

	// GENERATE
	if stop := o.step(st, PhaseGenerate, ""); stop {
		return st, nil
	}
	set, err := o.Generator.Generate(runCtx, structural)
	if err != nil {
		st.finish(ReasonUnresolved)
		return st, fmt.Errorf("test generation: %w", err)
	}
	st.TotalCases = len(set.Cases)

	// EXECUTE
	if stop := o.step(st, PhaseExecute, set.ID); stop {
		return st, nil
	}
	out, err := o.Runner.Execute(runCtx, set, repoRoot)
	if err != nil {
		st.finish(ReasonUnresolved)
		return st, fmt.Errorf("test execution: %w", err)
	}
	st.FailedCases = len(out.Failures())
	if out.AllPassed() {
		st.finish(ReasonSuccess)
		return st, nil
	}

	// DIAGNOSE
	if stop := o.step(st, PhaseDiagnose, fmt.Sprintf("%d failing", st.FailedCases)); stop {
		return st, nil
	}
	st.Failures, st.Ambiguities = o.Extractor.Extract(out)

	// MATCH
	if stop := o.step(st, PhaseMatch, fmt.Sprintf("%d signals", len(st.Failures))); stop {
		return st, nil
	}
	o.matchAll(runCtx, st)

	if o.anyMatches(st) {
		// APPLY_GUIDED
		if stop := o.step(st, PhaseApplyGuided, ""); stop {
			return st, nil
		}
		o.applyGuided(runCtx, st, repoPaths)

		// RETEST
		if stop := o.step(st, PhaseRetest, ""); stop {
			return st, nil
		}
		out, err = o.Runner.Execute(runCtx, set, repoRoot)
		if err != nil {
			st.finish(ReasonUnresolved)
			return st, fmt.Errorf("retest execution: %w", err)
		}
		st.FailedCases = len(out.Failures())
		if out.AllPassed() {
			st.finish(ReasonSuccess)
			return st, nil
		}
	}

	// FALLBACK. A failed retest never loops back to the next candidate;
	// what guidance could do, it did.
	if stop := o.step(st, PhaseFallback, "guided path exhausted"); stop {
		return st, nil
	}
	o.fallback(runCtx, st, out, repoPaths)

	// RETEST_FINAL
	if stop := o.step(st, PhaseRetestFinal, ""); stop {
		return st, nil
	}
	out, err = o.Runner.Execute(runCtx, set, repoRoot)
	if err != nil {
		st.finish(ReasonUnresolved)
		return st, fmt.Errorf("final retest execution: %w", err)
	}
	st.FailedCases = len(out.Failures())
	if out.AllPassed() {
		st.finish(ReasonSuccess)
	} else {
		st.finish(ReasonUnresolved)
	}
	return st, nil
}

// step advances the machine and reports whether the run must stop because
// the budget ran out.
func (o *Orchestrator) step(st *RunState, to Phase, note string) bool {
	err := st.advance(to, note)
	if err == nil {
		return false
	}
	var be *BudgetExceededError
	if errors.As(err, &be) {
		return true
	}
	// Invalid transitions are programming errors; surface them loudly in
	// the state and stop.
	st.finish(ReasonUnresolved)
	logging.OrchestrateWarn("%s: %v", st.RunID, err)
	return true
}

// matchAll ranks every failure against the corpus in parallel. Workers write
// to their own slot; the merge into RunState happens after they join.
func (o *Orchestrator) matchAll(ctx context.Context, st *RunState) {
	results := make([][]rank.Match, len(st.Failures))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matchWorkers)
	for i := range st.Failures {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := &st.Failures[i]
			candidates := o.Index.Query(rec)
			results[i] = o.Ranker.Rank(rec, candidates)
			return nil
		})
	}
	// The only possible error is context cancellation; partial results are
	// still usable.
	if err := g.Wait(); err != nil {
		logging.OrchestrateWarn("%s: match interrupted: %v", st.RunID, err)
	}

	for i, rec := range st.Failures {
		if len(results[i]) > 0 {
			st.Matches[rec.CaseID] = results[i]
		}
	}
}

func (o *Orchestrator) anyMatches(st *RunState) bool {
	return len(st.Matches) > 0
}

// applyGuided walks each matched case's candidates in rank order. Only an
// adaptation failure moves on to the next candidate; the first applied patch
// claims the case.
func (o *Orchestrator) applyGuided(ctx context.Context, st *RunState, repoPaths []string) {
	caseIDs := make([]string, 0, len(st.Matches))
	for id := range st.Matches {
		caseIDs = append(caseIDs, id)
	}
	sort.Strings(caseIDs)

	for _, caseID := range caseIDs {
		matches := st.Matches[caseID]
		if o.MaxCandidatesPerCase > 0 && len(matches) > o.MaxCandidatesPerCase {
			matches = matches[:o.MaxCandidatesPerCase]
		}
		for _, m := range matches {
			if ctx.Err() != nil {
				return
			}
			st.AttemptsPerCase[caseID]++
			rec := o.Index.Record(m.DefectID)
			if rec == nil {
				logging.OrchestrateWarn("%s: ranked defect %s missing from index", st.RunID, m.DefectID)
				continue
			}
			body, err := o.Bodies.Get(ctx, rec.PatchRef)
			if err != nil {
				logging.OrchestrateWarn("%s: patch body for %s: %v", st.RunID, m.DefectID, err)
				continue
			}
			applied, err := o.Adapter.Apply(ctx, st.RepoRoot, repoPaths, m.DefectID, body)
			if err != nil {
				var aerr *patch.AdaptationError
				if errors.As(err, &aerr) {
					logging.Orchestrate("%s: case %s: candidate %s did not adapt (%s), trying next",
						st.RunID, caseID, m.DefectID, aerr.Reason)
					continue
				}
				logging.OrchestrateWarn("%s: case %s: apply %s: %v", st.RunID, caseID, m.DefectID, err)
				return
			}
			st.AppliedPatches = append(st.AppliedPatches, *applied)
			st.GuidedCases[caseID] = true
			logging.Orchestrate("%s: case %s repaired with %s (score %.2f)", st.RunID, caseID, m.DefectID, m.Score)
			break
		}
	}
}

// fallback hands the latest failures to the unguided agent, including cases
// whose guided patch applied but did not fix them. Once fallback starts,
// guided matching never resumes for the run.
func (o *Orchestrator) fallback(ctx context.Context, st *RunState, latest *runner.RawOutput, repoPaths []string) {
	if o.Agent == nil {
		logging.Orchestrate("%s: no agent configured, skipping unguided repair", st.RunID)
		return
	}

	records, _ := o.Extractor.Extract(latest)
	if len(records) == 0 {
		logging.Orchestrate("%s: no failures left for unguided repair", st.RunID)
		return
	}

	res, err := o.Agent.Repair(ctx, st.RepoRoot, repoPaths, records)
	if err != nil {
		// The unguided path failing is a recoverable outcome; the final
		// retest will tell the truth either way.
		logging.OrchestrateWarn("%s: unguided repair failed: %v", st.RunID, err)
		return
	}
	st.FallbackDiff = res.Diff
	if res.Applied != nil {
		st.AppliedPatches = append(st.AppliedPatches, *res.Applied)
	}
	for _, caseID := range res.Cases {
		st.FallbackCases[caseID] = true
	}
}
