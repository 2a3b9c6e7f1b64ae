// Package agent implements unguided repair: when no corpus candidate fits,
// an LLM gets the structured failure signals plus the relevant source and
// proposes a unified diff, which applies through the same adapter as guided
// patches.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"remedy/internal/failure"
	"remedy/internal/llm"
	"remedy/internal/logging"
	"remedy/internal/patch"
)

// AgentError means the unguided path itself broke: the backend failed, the
// response carried no diff, or the proposed diff would not apply.
type AgentError struct {
	Op  string
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("repair agent %s: %v", e.Op, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Result is a completed unguided repair.
type Result struct {
	Diff    string          `json:"diff"`
	Applied *patch.Applied  `json:"applied"`
	Prompt  string          `json:"-"`
	Cases   []string        `json:"cases"`
}

// Agent proposes and applies a repair for a set of failures.
type Agent interface {
	Repair(ctx context.Context, repoRoot string, repoPaths []string, failures []failure.Record) (*Result, error)
}

// LLMAgent drives a completion backend.
type LLMAgent struct {
	client  llm.Client
	adapter *patch.Adapter

	// MaxFailures bounds how many failure records one prompt carries.
	MaxFailures int
	// PromptDir, when set, receives a copy of every prompt for audit.
	PromptDir string
	// ContextLines is how much source surrounds a failure location.
	ContextLines int
}

// NewLLMAgent returns an agent using client for completions and adapter for
// applying the proposed diff.
func NewLLMAgent(client llm.Client, adapter *patch.Adapter) *LLMAgent {
	return &LLMAgent{
		client:       client,
		adapter:      adapter,
		MaxFailures:  5,
		ContextLines: 20,
	}
}

const systemPrompt = `You are a software repair tool. You receive structured test
failure signals and source excerpts from a repository. Respond with exactly one
unified diff that fixes the failures, inside a fenced code block marked diff.
Use paths relative to the repository root with a/ and b/ prefixes. Do not
explain; emit only the diff.`

// Repair implements Agent.
func (a *LLMAgent) Repair(ctx context.Context, repoRoot string, repoPaths []string, failures []failure.Record) (*Result, error) {
	if len(failures) == 0 {
		return nil, &AgentError{Op: "prompt", Err: fmt.Errorf("no failures to repair")}
	}
	max := a.MaxFailures
	if max <= 0 {
		max = 5
	}
	if len(failures) > max {
		failures = failures[:max]
	}

	prompt := a.buildPrompt(repoRoot, repoPaths, failures)
	a.persistPrompt(prompt)

	logging.Agent("requesting unguided repair for %d failures", len(failures))
	raw, err := a.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, &AgentError{Op: "complete", Err: err}
	}

	diffText := ExtractDiff(raw)
	if diffText == "" {
		return nil, &AgentError{Op: "extract", Err: fmt.Errorf("response contains no unified diff")}
	}

	applied, err := a.adapter.Apply(ctx, repoRoot, repoPaths, "", diffText)
	if err != nil {
		return nil, &AgentError{Op: "apply", Err: err}
	}

	res := &Result{Diff: diffText, Applied: applied, Prompt: prompt}
	for _, f := range failures {
		res.Cases = append(res.Cases, f.CaseID)
	}
	logging.Agent("unguided repair touched %d files", len(applied.Files))
	return res, nil
}

func (a *LLMAgent) buildPrompt(repoRoot string, repoPaths []string, failures []failure.Record) string {
	var b strings.Builder
	b.WriteString("# Test failures\n\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "## case %s\n", f.CaseID)
		fmt.Fprintf(&b, "- error kind: %s\n", f.ErrorKind)
		fmt.Fprintf(&b, "- traceback: %s\n", f.TracebackKey)
		if f.AffectedInterface != "" {
			fmt.Fprintf(&b, "- affected interface: %s\n", f.AffectedInterface)
		}
		if f.Location != nil {
			fmt.Fprintf(&b, "- location: %s:%d\n", f.Location.Path, f.Location.StartLine)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Source excerpts\n\n")
	seen := make(map[string]bool)
	for _, f := range failures {
		if f.Location == nil || f.Location.Path == "" || seen[f.Location.Path] {
			continue
		}
		seen[f.Location.Path] = true
		if snippet := a.excerpt(repoRoot, repoPaths, f.Location); snippet != "" {
			b.WriteString(snippet)
			b.WriteString("\n")
		}
	}
	b.WriteString("Produce one unified diff fixing these failures.\n")
	return b.String()
}

// excerpt reads the source around a failure location. Locations come from
// tracebacks, so the path may need the same suffix resolution patches get.
func (a *LLMAgent) excerpt(repoRoot string, repoPaths []string, loc *failure.Location) string {
	target := loc.Path
	if _, err := os.Stat(filepath.Join(repoRoot, filepath.FromSlash(target))); err != nil {
		target = ""
		base := strings.ToLower(filepath.Base(loc.Path))
		for _, p := range repoPaths {
			if strings.ToLower(filepath.Base(p)) == base {
				if target != "" {
					return "" // ambiguous, skip the excerpt
				}
				target = p
			}
		}
		if target == "" {
			return ""
		}
	}

	raw, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(target)))
	if err != nil {
		return ""
	}
	lines := strings.Split(string(raw), "\n")
	n := a.ContextLines
	if n <= 0 {
		n = 20
	}
	start := loc.StartLine - 1 - n/2
	if start < 0 {
		start = 0
	}
	end := start + n
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s (lines %d-%d)\n```\n", target, start+1, end)
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i+1, lines[i])
	}
	b.WriteString("```\n")
	return b.String()
}

func (a *LLMAgent) persistPrompt(prompt string) {
	if a.PromptDir == "" {
		return
	}
	if err := os.MkdirAll(a.PromptDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("prompt-%s.md", time.Now().UTC().Format("20060102-150405.000"))
	if err := os.WriteFile(filepath.Join(a.PromptDir, name), []byte(prompt), 0o644); err != nil {
		logging.AgentWarn("failed to persist prompt: %v", err)
	}
}

var fencedDiff = regexp.MustCompile("(?s)```(?:diff|patch)?\\s*\\n(.*?)```")

// ExtractDiff pulls a unified diff out of a model response: a fenced block
// when present, otherwise everything from the first diff header on.
func ExtractDiff(response string) string {
	for _, m := range fencedDiff.FindAllStringSubmatch(response, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "diff") || strings.HasPrefix(body, "---") {
			return body + "\n"
		}
	}
	for _, marker := range []string{"diff --git ", "--- a/", "--- /dev/null"} {
		if i := strings.Index(response, marker); i >= 0 {
			return strings.TrimSpace(response[i:]) + "\n"
		}
	}
	return ""
}
