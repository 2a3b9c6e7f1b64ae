package patch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"remedy/internal/diff"
	"remedy/internal/logging"
)

// Adaptation failure reasons.
const (
	ReasonPathUnresolved  = "path_unresolved"
	ReasonContextMismatch = "context_mismatch"
)

// AdaptationError means a patch could not be fitted to the target
// repository. It is recoverable: the caller moves on to the next candidate.
type AdaptationError struct {
	DefectID string
	Reason   string
	File     string
	Detail   string
}

func (e *AdaptationError) Error() string {
	return fmt.Sprintf("patch adaptation failed (%s) on %s: %s", e.Reason, e.File, e.Detail)
}

// AppliedFile records what one applied patch did to one file.
type AppliedFile struct {
	Path    string       `json:"path"`
	Created bool         `json:"created,omitempty"`
	Deleted bool         `json:"deleted,omitempty"`
	Ranges  []diff.Range `json:"ranges,omitempty"`
}

// Applied summarizes a successfully applied patch.
type Applied struct {
	DefectID string        `json:"defect_id,omitempty"`
	Files    []AppliedFile `json:"files"`
	// Skipped lists secondary patch paths that resolved to no repository
	// file and were left out of the application.
	Skipped []string `json:"skipped,omitempty"`
	NoOp    bool     `json:"no_op,omitempty"`
}

// DefaultFuzz is the minimum similarity a drifted context line must keep for
// a hunk to still anchor on it.
const DefaultFuzz = 0.75

// searchWindow bounds how far from a hunk's declared position the adapter
// looks for its anchor.
const searchWindow = 200

// Adapter fits unified diffs onto a repository checkout. Writes to the same
// file serialize on a per-path lock; distinct files proceed concurrently.
type Adapter struct {
	engine *diff.Engine
	// Fuzz overrides DefaultFuzz when > 0.
	Fuzz float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAdapter returns an adapter with default fuzz tolerance.
func NewAdapter() *Adapter {
	return &Adapter{
		engine: diff.NewEngine(),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (a *Adapter) fuzz() float64 {
	if a.Fuzz > 0 {
		return a.Fuzz
	}
	return DefaultFuzz
}

func (a *Adapter) pathLock(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[path]
	if !ok {
		l = &sync.Mutex{}
		a.locks[path] = l
	}
	return l
}

// stagedFile is one pending write.
type stagedFile struct {
	path    string // repository-relative
	content string
	create  bool
	remove  bool
	noop    bool
	ranges  []diff.Range
}

// Apply fits diffText onto the checkout at repoRoot. repoPaths is the
// repository file list used for path resolution. Either every file change
// lands or none does; re-applying an already-applied patch is a no-op
// success. Patches touching the same file serialize on per-path locks held
// across the whole read-stage-write cycle, so concurrent applies never lose
// each other's edits.
func (a *Adapter) Apply(ctx context.Context, repoRoot string, repoPaths []string, defectID, diffText string) (*Applied, error) {
	patches, err := Parse(diffText)
	if err != nil {
		return nil, &AdaptationError{
			DefectID: defectID,
			Reason:   ReasonContextMismatch,
			File:     "",
			Detail:   "unparseable diff: " + err.Error(),
		}
	}

	// Resolve every target before touching anything. The primary file must
	// resolve; a secondary file nothing in the repository matches is
	// skipped rather than sinking the whole candidate.
	targets := make([]string, len(patches))
	include := make([]bool, len(patches))
	var skipped []string
	for i := range patches {
		fp := &patches[i]
		if fp.IsNew {
			targets[i] = path.Clean(fp.Path())
			include[i] = true
			continue
		}
		target, aerr := resolvePath(fp.Path(), repoPaths)
		if aerr != nil {
			aerr.DefectID = defectID
			if i == 0 {
				logging.PatchWarn("%s: %v", defectID, aerr)
				return nil, aerr
			}
			logging.PatchWarn("%s: skipping secondary file: %v", defectID, aerr)
			skipped = append(skipped, fp.Path())
			continue
		}
		targets[i] = target
		include[i] = true
	}

	// Lock all involved paths in sorted order, for the full cycle.
	locked := make([]string, 0, len(targets))
	for i, p := range targets {
		if include[i] {
			locked = append(locked, p)
		}
	}
	for _, p := range sortedUnique(locked) {
		l := a.pathLock(p)
		l.Lock()
		defer l.Unlock()
	}

	// Stage everything in memory before the first write.
	staged := make([]stagedFile, 0, len(patches))
	for i := range patches {
		if !include[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sf, aerr := a.stageFilePatch(repoRoot, targets[i], &patches[i])
		if aerr != nil {
			aerr.DefectID = defectID
			logging.PatchWarn("%s: %v", defectID, aerr)
			return nil, aerr
		}
		staged = append(staged, sf)
	}

	applied := &Applied{DefectID: defectID, Skipped: skipped, NoOp: true}
	for _, sf := range staged {
		if err := a.commit(repoRoot, sf); err != nil {
			return nil, &AdaptationError{
				DefectID: defectID,
				Reason:   ReasonContextMismatch,
				File:     sf.path,
				Detail:   "write failed: " + err.Error(),
			}
		}
		if !sf.noop {
			applied.NoOp = false
		}
		applied.Files = append(applied.Files, AppliedFile{
			Path:    sf.path,
			Created: sf.create && !sf.noop,
			Deleted: sf.remove && !sf.noop,
			Ranges:  sf.ranges,
		})
	}
	logging.Patch("%s: applied to %d files (noop=%v)", defectID, len(applied.Files), applied.NoOp)
	return applied, nil
}

func sortedUnique(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	sort.Strings(out)
	n := 0
	for _, p := range out {
		if n == 0 || out[n-1] != p {
			out[n] = p
			n++
		}
	}
	return out[:n]
}

func (a *Adapter) commit(repoRoot string, sf stagedFile) error {
	abs := filepath.Join(repoRoot, filepath.FromSlash(sf.path))
	switch {
	case sf.noop:
		return nil
	case sf.remove:
		return os.Remove(abs)
	default:
		if sf.create {
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(abs, []byte(sf.content), 0o644)
	}
}

func (a *Adapter) stageFilePatch(repoRoot, target string, fp *FilePatch) (stagedFile, *AdaptationError) {
	if fp.IsNew {
		content := newFileContent(fp)
		if existing, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(target))); err == nil {
			if string(existing) == content {
				return stagedFile{path: target, noop: true}, nil
			}
			return stagedFile{}, &AdaptationError{
				Reason: ReasonContextMismatch,
				File:   target,
				Detail: "file to create already exists with different content",
			}
		}
		return stagedFile{
			path:    target,
			content: content,
			create:  true,
			ranges:  a.engine.TouchedRanges("", content),
		}, nil
	}

	raw, err := os.ReadFile(filepath.Join(repoRoot, filepath.FromSlash(target)))
	if err != nil {
		if fp.IsDelete && os.IsNotExist(err) {
			return stagedFile{path: target, remove: true, noop: true}, nil
		}
		return stagedFile{}, &AdaptationError{
			Reason: ReasonPathUnresolved,
			File:   target,
			Detail: "unreadable target: " + err.Error(),
		}
	}
	current := string(raw)

	if fp.IsDelete {
		return stagedFile{path: target, remove: true}, nil
	}

	patched, aerr := a.applyHunks(current, fp)
	if aerr != nil {
		aerr.File = target
		return stagedFile{}, aerr
	}
	if patched == current {
		return stagedFile{path: target, noop: true}, nil
	}
	return stagedFile{
		path:    target,
		content: patched,
		ranges:  a.engine.TouchedRanges(current, patched),
	}, nil
}

func newFileContent(fp *FilePatch) string {
	var b strings.Builder
	for _, h := range fp.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineAdd {
				b.WriteString(l.Text)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// applyHunks fits every hunk of fp onto content. Hunks apply bottom-up so
// earlier offsets stay valid. A hunk whose result is already present counts
// as applied, which makes whole-patch re-application idempotent.
func (a *Adapter) applyHunks(content string, fp *FilePatch) (string, *AdaptationError) {
	lines := splitLines(content)

	hunks := make([]Hunk, len(fp.Hunks))
	copy(hunks, fp.Hunks)
	sort.Slice(hunks, func(i, j int) bool { return hunks[i].OldStart > hunks[j].OldStart })

	for _, h := range hunks {
		old, new, deleted := hunkSides(&h)
		pos, found := a.findAnchor(lines, old, deleted, h.OldStart-1)
		if !found {
			if blockPresent(lines, new) {
				continue
			}
			return "", &AdaptationError{
				Reason: ReasonContextMismatch,
				Detail: fmt.Sprintf("hunk @@ -%d,%d @@ found no anchor", h.OldStart, h.OldCount),
			}
		}
		lines = append(lines[:pos:pos], append(new, lines[pos+len(old):]...)...)
	}
	return joinLines(lines), nil
}

// hunkSides splits a hunk body into the lines expected before and after.
// deleted marks which old lines the hunk removes.
func hunkSides(h *Hunk) (old, new []string, deleted []bool) {
	for _, l := range h.Lines {
		switch l.Kind {
		case LineContext:
			old = append(old, l.Text)
			deleted = append(deleted, false)
			new = append(new, l.Text)
		case LineDel:
			old = append(old, l.Text)
			deleted = append(deleted, true)
		case LineAdd:
			new = append(new, l.Text)
		}
	}
	return old, new, deleted
}

// findAnchor locates where a hunk's old lines sit in the file, preferring
// the declared position and spiraling outward from it. Context lines may
// drift within the fuzz tolerance; removed lines must match exactly or
// the hunk would delete something it never meant to.
func (a *Adapter) findAnchor(lines, old []string, deleted []bool, preferred int) (int, bool) {
	if len(old) == 0 {
		// Pure insertion anchors at the declared position, clamped.
		if preferred < 0 {
			return 0, true
		}
		if preferred > len(lines) {
			return len(lines), true
		}
		return preferred, true
	}
	tryAt := func(pos int) bool {
		if pos < 0 || pos+len(old) > len(lines) {
			return false
		}
		for i, want := range old {
			got := lines[pos+i]
			if got == want {
				continue
			}
			if deleted[i] {
				return false
			}
			if a.engine.Similarity(got, want) < a.fuzz() {
				return false
			}
		}
		return true
	}
	for delta := 0; delta <= searchWindow; delta++ {
		if tryAt(preferred + delta) {
			return preferred + delta, true
		}
		if delta > 0 && tryAt(preferred-delta) {
			return preferred - delta, true
		}
	}
	return 0, false
}

// blockPresent reports whether the block already appears verbatim anywhere
// in the file.
func blockPresent(lines, block []string) bool {
	if len(block) == 0 {
		return false
	}
	for pos := 0; pos+len(block) <= len(lines); pos++ {
		match := true
		for i := range block {
			if lines[pos+i] != block[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// splitLines keeps the semantic of a trailing newline: "a\n" is one line,
// "a" is one line too, "" is zero lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
