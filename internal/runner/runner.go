package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"remedy/internal/logging"
)

// Runner executes an artifact set against a repository checkout. Execute
// blocks until the set completes or ctx is cancelled; either way it returns a
// valid RawOutput. Running the same set twice against an unchanged checkout
// is expected to produce equivalent results.
type Runner interface {
	Execute(ctx context.Context, set *ArtifactSet, repoPath string) (*RawOutput, error)
}

// ShellRunner runs each case through a shell in the repository directory.
type ShellRunner struct {
	// DefaultTimeout applies to cases without their own timeout_sec.
	DefaultTimeout time.Duration
}

// NewShellRunner returns a runner with a 30 second per-case default timeout.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{DefaultTimeout: 30 * time.Second}
}

// Execute implements Runner. Cases run sequentially; a cancelled context
// stops before the next case and marks the output interrupted. A per-case
// timeout produces a failed case, not an error.
func (r *ShellRunner) Execute(ctx context.Context, set *ArtifactSet, repoPath string) (*RawOutput, error) {
	if set == nil || len(set.Cases) == 0 {
		return nil, fmt.Errorf("empty artifact set")
	}

	out := &RawOutput{
		ArtifactSetID: set.ID,
		Started:       time.Now(),
	}
	for _, c := range set.Cases {
		if ctx.Err() != nil {
			out.Interrupted = true
			break
		}
		out.Cases = append(out.Cases, r.runCase(ctx, c, repoPath))
	}
	out.Completed = time.Now()

	if ctx.Err() != nil {
		out.Interrupted = true
	}
	logging.Runner("executed set %s: %d/%d cases, %d failures, interrupted=%v",
		set.ID, len(out.Cases), len(set.Cases), len(out.Failures()), out.Interrupted)
	return out, nil
}

func (r *ShellRunner) runCase(ctx context.Context, c CaseSpec, repoPath string) CaseResult {
	timeout := r.DefaultTimeout
	if c.TimeoutSec > 0 {
		timeout = time.Duration(c.TimeoutSec) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(cctx, "sh", "-c", c.Command)
	cmd.Dir = repoPath
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	// Backstop for orphans that survive the group kill while holding the
	// output pipe open.
	cmd.WaitDelay = 2 * time.Second
	raw, err := cmd.CombinedOutput()

	res := CaseResult{
		CaseID:   c.ID,
		Output:   string(raw),
		Duration: time.Since(start),
	}
	switch {
	case err == nil:
		res.Status = StatusPassed
		res.Passed = true
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		res.Status = StatusFailed
		res.ExitCode = -1
		res.Output += fmt.Sprintf("\ncase %s timed out after %s", c.ID, timeout)
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Status = StatusFailed
			res.ExitCode = exitErr.ExitCode()
		} else {
			// The command never started.
			res.Status = StatusErrored
			res.ExitCode = -1
			res.Output += "\n" + err.Error()
		}
	}
	logging.RunnerDebug("case %s: %s (exit %d, %s)", c.ID, res.Status, res.ExitCode, res.Duration)
	return res
}
