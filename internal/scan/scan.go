// Package scan produces the structural map of a target repository: the file
// tree plus per-file type and size statistics. The map is the only thing the
// repair workflow knows about the repository's shape; no syntactic analysis
// happens here.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"remedy/internal/logging"
)

// ScanError is fatal: a run cannot proceed without a structural map.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("structural scan of %s failed: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// FileStat describes one file in the structural map.
type FileStat struct {
	Path      string `json:"path"` // relative to Root, forward slashes
	SizeBytes int64  `json:"size_bytes"`
	Language  string `json:"language"`
	Hash      string `json:"hash"`
	IsTest    bool   `json:"is_test"`
}

// Map is the structural map of one repository snapshot.
type Map struct {
	Root       string         `json:"root"`
	Files      []FileStat     `json:"files"`
	TotalBytes int64          `json:"total_bytes"`
	ByLanguage map[string]int `json:"by_language"`
}

// Paths returns all file paths in the map, relative to Root.
func (m *Map) Paths() []string {
	out := make([]string, len(m.Files))
	for i, f := range m.Files {
		out[i] = f.Path
	}
	return out
}

// Scanner produces a structural map for a repository root.
type Scanner interface {
	Scan(ctx context.Context, root string) (*Map, error)
}

// FSScanner walks the local filesystem. Hashing is parallelized with a
// bounded worker group.
type FSScanner struct {
	// Workers bounds concurrent file hashing. Zero means DefaultWorkers.
	Workers int
}

// DefaultWorkers bounds hashing concurrency when FSScanner.Workers is zero.
const DefaultWorkers = 16

// NewFSScanner returns a scanner with default settings.
func NewFSScanner() *FSScanner {
	return &FSScanner{}
}

// hiddenAllowed lists hidden directories that still carry repository
// structure worth mapping.
var hiddenAllowed = map[string]bool{
	".github":   true,
	".circleci": true,
	".config":   true,
}

// Scan implements Scanner.
func (s *FSScanner) Scan(ctx context.Context, root string) (*Map, error) {
	timer := logging.StartTimer(logging.CategoryScan, "scan "+root)
	defer timer.Stop()

	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: fmt.Errorf("not a directory")}
	}

	var paths []string
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if hiddenAllowed[name] {
					return nil
				}
				return filepath.SkipDir
			}
			if name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return nil, &ScanError{Root: root, Err: walkErr}
	}

	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	stats := make([]FileStat, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fi, err := os.Stat(p)
			if err != nil {
				// File vanished mid-scan; leave a zero entry and drop it below.
				return nil
			}
			hash, err := hashFile(p)
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				rel = p
			}
			rel = filepath.ToSlash(rel)
			stats[i] = FileStat{
				Path:      rel,
				SizeBytes: fi.Size(),
				Language:  detectLanguage(rel),
				Hash:      hash,
				IsTest:    isTestFile(rel),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	m := &Map{
		Root:       root,
		ByLanguage: make(map[string]int),
	}
	for _, st := range stats {
		if st.Path == "" {
			continue
		}
		m.Files = append(m.Files, st)
		m.TotalBytes += st.SizeBytes
		m.ByLanguage[st.Language]++
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })

	logging.Scan("scanned %s: %d files, %d bytes", root, len(m.Files), m.TotalBytes)
	return m, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

var extToLanguage = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".jsx":  "javascript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sql":  "sql",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
	".xml":  "xml",
	".md":   "markdown",
	".vue":  "vue",
}

func detectLanguage(path string) string {
	if lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "other"
}

func isTestFile(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, "_test.go"),
		strings.HasPrefix(base, "test_"),
		strings.HasSuffix(base, "_test.py"),
		strings.HasSuffix(base, ".test.js"),
		strings.HasSuffix(base, ".test.ts"),
		strings.HasSuffix(base, "test.java"),
		strings.HasSuffix(base, "tests.java"):
		return true
	}
	return strings.Contains(filepath.ToSlash(path), "/tests/")
}
