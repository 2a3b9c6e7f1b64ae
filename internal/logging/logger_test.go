package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeLoggingConfig(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, ".remedy")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestInitialize_NoConfigIsSilent(t *testing.T) {
	ws := t.TempDir()
	t.Cleanup(CloseAll)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if IsDebugMode() {
		t.Fatal("IsDebugMode() = true, want false without config")
	}
	if _, err := os.Stat(filepath.Join(ws, ".remedy", "logs")); !os.IsNotExist(err) {
		t.Fatal("logs directory created in production mode")
	}
}

func TestInitialize_DebugModeWritesCategoryFile(t *testing.T) {
	ws := t.TempDir()
	t.Cleanup(CloseAll)
	writeLoggingConfig(t, ws, `{"logging":{"debug_mode":true,"level":"debug"}}`)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !IsDebugMode() {
		t.Fatal("IsDebugMode() = false, want true")
	}

	Orchestrate("phase transition: %s -> %s", "EXECUTE", "DIAGNOSE")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".remedy", "logs"))
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Name(), "orchestrate") {
			found = true
			data, err := os.ReadFile(filepath.Join(ws, ".remedy", "logs", e.Name()))
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			if !strings.Contains(string(data), "EXECUTE") {
				t.Fatalf("log content = %q, want phase transition line", string(data))
			}
		}
	}
	if !found {
		t.Fatal("no orchestrate log file written")
	}
}

func TestIsCategoryEnabled_RespectsFilter(t *testing.T) {
	ws := t.TempDir()
	t.Cleanup(CloseAll)
	writeLoggingConfig(t, ws, `{"logging":{"debug_mode":true,"categories":{"rank":false}}}`)

	if err := Initialize(ws); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if IsCategoryEnabled(CategoryRank) {
		t.Fatal("IsCategoryEnabled(rank) = true, want false")
	}
	if !IsCategoryEnabled(CategoryPatch) {
		t.Fatal("IsCategoryEnabled(patch) = false, want true (default on)")
	}
}
