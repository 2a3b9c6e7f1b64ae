// Package patch parses unified diffs and applies them to a repository
// checkout, adapting paths and drifted context along the way. Application is
// all-or-nothing per patch: every file change stages in memory first and
// nothing touches disk until the whole patch resolved.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineKind marks one hunk line.
type LineKind byte

const (
	LineContext LineKind = ' '
	LineAdd     LineKind = '+'
	LineDel     LineKind = '-'
)

// HunkLine is one line of a hunk body.
type HunkLine struct {
	Kind LineKind
	Text string
}

// Hunk is one change region of a file patch.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []HunkLine
}

// FilePatch is every hunk targeting one file.
type FilePatch struct {
	OldPath  string
	NewPath  string
	IsNew    bool
	IsDelete bool
	Hunks    []Hunk
}

// Path returns the effective target path of the patch.
func (fp *FilePatch) Path() string {
	if fp.IsDelete || fp.NewPath == "" {
		return fp.OldPath
	}
	return fp.NewPath
}

var hunkHeader = regexp.MustCompile(`^@@\s+-(\d+)(?:,(\d+))?\s+\+(\d+)(?:,(\d+))?\s+@@`)

// Parse splits a unified diff into per-file patches. It accepts both
// git-style diffs with "diff --git" headers and bare ---/+++ patches.
func Parse(diffText string) ([]FilePatch, error) {
	lines := strings.Split(diffText, "\n")
	var patches []FilePatch
	var cur *FilePatch
	var hunk *Hunk
	// Remaining body lines the open hunk's header promised. Once both hit
	// zero the hunk is complete and later lines (such as the empty element
	// a trailing newline leaves after Split) must not join it.
	var oldLeft, newLeft int

	flushHunk := func() {
		if hunk != nil && cur != nil {
			cur.Hunks = append(cur.Hunks, *hunk)
		}
		hunk = nil
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			patches = append(patches, *cur)
		}
		cur = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
			cur = &FilePatch{}
			if old, new, ok := parseGitHeader(line); ok {
				cur.OldPath, cur.NewPath = old, new
			}
		case strings.HasPrefix(line, "new file mode"):
			if cur != nil {
				cur.IsNew = true
			}
		case strings.HasPrefix(line, "deleted file mode"):
			if cur != nil {
				cur.IsDelete = true
			}
		case strings.HasPrefix(line, "--- "):
			flushHunk()
			// In a bare multi-file patch a new old-side header starts the
			// next file; git-style diffs already flushed on "diff --git".
			if cur != nil && len(cur.Hunks) > 0 {
				flushFile()
			}
			if cur == nil {
				cur = &FilePatch{}
			}
			p := stripPathPrefix(strings.TrimSpace(line[4:]))
			if p == "/dev/null" {
				cur.IsNew = true
			} else {
				cur.OldPath = p
			}
		case strings.HasPrefix(line, "+++ "):
			if cur == nil {
				continue
			}
			p := stripPathPrefix(strings.TrimSpace(line[4:]))
			if p == "/dev/null" {
				cur.IsDelete = true
			} else {
				cur.NewPath = p
			}
		case hunkHeader.MatchString(line):
			if cur == nil {
				return nil, fmt.Errorf("hunk header before any file header at line %d", i+1)
			}
			flushHunk()
			m := hunkHeader.FindStringSubmatch(line)
			hunk = &Hunk{
				OldStart: atoiDefault(m[1], 1),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 1),
				NewCount: atoiDefault(m[4], 1),
			}
			oldLeft, newLeft = hunk.OldCount, hunk.NewCount
		case hunk != nil && len(line) > 0 && (line[0] == ' ' || line[0] == '+' || line[0] == '-'):
			if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
				// Handled above; unreachable but kept for clarity of the guard.
				continue
			}
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: LineKind(line[0]), Text: line[1:]})
			switch line[0] {
			case ' ':
				oldLeft, newLeft = oldLeft-1, newLeft-1
			case '-':
				oldLeft--
			case '+':
				newLeft--
			}
			if oldLeft <= 0 && newLeft <= 0 {
				flushHunk()
			}
		case hunk != nil && line == "":
			// A bare empty line inside a still-open hunk is a context line
			// whose leading space was stripped in transit.
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: LineContext, Text: ""})
			oldLeft, newLeft = oldLeft-1, newLeft-1
			if oldLeft <= 0 && newLeft <= 0 {
				flushHunk()
			}
		case hunk != nil && strings.HasPrefix(line, `\ No newline at end of file`):
			// Metadata only.
		default:
			// Anything else ends the current hunk.
			flushHunk()
		}
	}
	flushFile()

	if len(patches) == 0 {
		return nil, fmt.Errorf("no file patches found")
	}
	for _, p := range patches {
		if p.Path() == "" {
			return nil, fmt.Errorf("file patch with no target path")
		}
		if len(p.Hunks) == 0 && !p.IsDelete {
			return nil, fmt.Errorf("patch for %s has no hunks", p.Path())
		}
	}
	return patches, nil
}

// parseGitHeader extracts paths from `diff --git a/x b/x`.
func parseGitHeader(line string) (old, new string, ok bool) {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return "", "", false
	}
	return stripPathPrefix(parts[0]), stripPathPrefix(parts[1]), true
}

// stripPathPrefix removes the conventional a/ or b/ diff prefix and any
// timestamp suffix.
func stripPathPrefix(p string) string {
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		return p[2:]
	}
	return p
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
