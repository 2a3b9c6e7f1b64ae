package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_MapsFilesAndLanguages(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app/server.py", "def handler():\n    pass\n")
	writeFile(t, root, "app/tests/test_server.py", "def test_handler():\n    pass\n")
	writeFile(t, root, "README.md", "hello\n")
	writeFile(t, root, ".git/config", "should be skipped")
	writeFile(t, root, "node_modules/pkg/index.js", "skipped too")

	m, err := NewFSScanner().Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if got, want := len(m.Files), 3; got != want {
		t.Fatalf("file count = %d, want %d (%v)", got, want, m.Paths())
	}
	if got, want := m.ByLanguage["python"], 2; got != want {
		t.Errorf("python count = %d, want %d", got, want)
	}

	var testCount int
	for _, f := range m.Files {
		if f.Hash == "" {
			t.Errorf("file %s has empty hash", f.Path)
		}
		if f.IsTest {
			testCount++
		}
	}
	if testCount != 1 {
		t.Errorf("test file count = %d, want 1", testCount)
	}
}

func TestScan_SortedPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "z.go", "package z\n")
	writeFile(t, root, "a.go", "package a\n")

	m, err := NewFSScanner().Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := m.Paths()
	if len(got) != 2 || got[0] != "a.go" || got[1] != "z.go" {
		t.Errorf("paths = %v, want [a.go z.go]", got)
	}
}

func TestScan_MissingRootIsFatal(t *testing.T) {
	_, err := NewFSScanner().Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	var se *ScanError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T, want *ScanError", err)
	}
}
