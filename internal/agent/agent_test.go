package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"remedy/internal/failure"
	"remedy/internal/patch"
)

type fakeClient struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, system, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

const brokenSource = `def greet(name):
    return "hello " + nam
`

const fixDiff = `diff --git a/app/greet.py b/app/greet.py
--- a/app/greet.py
+++ b/app/greet.py
@@ -1,2 +1,2 @@
 def greet(name):
-    return "hello " + nam
+    return "hello " + name
`

func writeRepo(t *testing.T) (string, []string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app/greet.py"), []byte(brokenSource), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, []string{"app/greet.py"}
}

func sampleFailures() []failure.Record {
	return []failure.Record{{
		CaseID:            "test_greet",
		ErrorKind:         failure.KindUnhandledException,
		TracebackKey:      "greet.py:greet",
		AffectedInterface: "greet",
		Location:          &failure.Location{Path: "app/greet.py", StartLine: 2, EndLine: 2},
	}}
}

func TestRepair_AppliesProposedDiff(t *testing.T) {
	root, paths := writeRepo(t)
	client := &fakeClient{response: "Here is the fix:\n```diff\n" + fixDiff + "```\n"}
	a := NewLLMAgent(client, patch.NewAdapter())

	res, err := a.Repair(context.Background(), root, paths, sampleFailures())
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "app/greet.py"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), `"hello " + name`) {
		t.Errorf("fix not applied:\n%s", got)
	}
	if len(res.Cases) != 1 || res.Cases[0] != "test_greet" {
		t.Errorf("cases = %v", res.Cases)
	}

	// The prompt carries both the signals and the source excerpt.
	prompt := client.prompts[0]
	for _, want := range []string{"test_greet", failure.KindUnhandledException, "app/greet.py", "nam"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRepair_NoDiffInResponse(t *testing.T) {
	root, paths := writeRepo(t)
	client := &fakeClient{response: "I cannot fix this, sorry."}
	a := NewLLMAgent(client, patch.NewAdapter())

	_, err := a.Repair(context.Background(), root, paths, sampleFailures())
	var aerr *AgentError
	if !errors.As(err, &aerr) || aerr.Op != "extract" {
		t.Fatalf("error = %v, want extract AgentError", err)
	}
}

func TestRepair_BackendFailure(t *testing.T) {
	root, paths := writeRepo(t)
	client := &fakeClient{err: fmt.Errorf("rate limited")}
	a := NewLLMAgent(client, patch.NewAdapter())

	_, err := a.Repair(context.Background(), root, paths, sampleFailures())
	var aerr *AgentError
	if !errors.As(err, &aerr) || aerr.Op != "complete" {
		t.Fatalf("error = %v, want complete AgentError", err)
	}
}

func TestRepair_PersistsPrompt(t *testing.T) {
	root, paths := writeRepo(t)
	promptDir := filepath.Join(t.TempDir(), "prompts")
	client := &fakeClient{response: "```diff\n" + fixDiff + "```"}
	a := NewLLMAgent(client, patch.NewAdapter())
	a.PromptDir = promptDir

	if _, err := a.Repair(context.Background(), root, paths, sampleFailures()); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	entries, err := os.ReadDir(promptDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("prompt dir entries = %v, err = %v, want one file", entries, err)
	}
}

func TestExtractDiff(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     bool
	}{
		{"fenced diff", "text\n```diff\n" + fixDiff + "```\nmore", true},
		{"unfenced", "Sure.\n" + fixDiff, true},
		{"fenced without language", "```\n" + fixDiff + "```", true},
		{"no diff", "cannot help", false},
		{"fenced non-diff code", "```\nprint('hi')\n```", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractDiff(tt.response)
			if (got != "") != tt.want {
				t.Errorf("ExtractDiff = %q, want present=%v", got, tt.want)
			}
			if got != "" {
				if _, err := patch.Parse(got); err != nil {
					t.Errorf("extracted diff does not parse: %v", err)
				}
			}
		})
	}
}
