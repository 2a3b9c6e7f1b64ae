// Package diff wraps the sergi/go-diff engine for line-oriented comparison.
// The patch adapter uses it to record which line ranges an applied patch
// touched and to measure how close drifted context is to what a patch
// expected.
package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is one edit operation.
type Op int

const (
	OpEqual Op = iota
	OpInsert
	OpDelete
)

// Edit is one run of lines sharing an operation.
type Edit struct {
	Op   Op
	Text string
}

// Range is a half-open 1-based line range [Start, End) in the new content.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Engine computes line diffs. Safe for concurrent use.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine creates an engine tuned for code diffs.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed
	return &Engine{dmp: dmp}
}

// DefaultEngine is a singleton engine for general use.
var DefaultEngine = NewEngine()

// Compare returns the line-level edit script from old to new.
func (e *Engine) Compare(old, new string) []Edit {
	c1, c2, lines := e.dmp.DiffLinesToChars(old, new)
	diffs := e.dmp.DiffMain(c1, c2, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lines)

	out := make([]Edit, 0, len(diffs))
	for _, d := range diffs {
		var op Op
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		default:
			op = OpEqual
		}
		out = append(out, Edit{Op: op, Text: d.Text})
	}
	return out
}

// TouchedRanges returns the 1-based line ranges of new that differ from old.
// A pure deletion surfaces as an empty range at the position the lines were
// removed from. Adjacent ranges merge.
func (e *Engine) TouchedRanges(old, new string) []Range {
	var ranges []Range
	line := 1
	for _, ed := range e.Compare(old, new) {
		n := countLines(ed.Text)
		switch ed.Op {
		case OpEqual:
			line += n
		case OpInsert:
			ranges = appendRange(ranges, Range{Start: line, End: line + n})
			line += n
		case OpDelete:
			ranges = appendRange(ranges, Range{Start: line, End: line})
		}
	}
	return ranges
}

func appendRange(ranges []Range, r Range) []Range {
	if n := len(ranges); n > 0 && ranges[n-1].End >= r.Start {
		if r.End > ranges[n-1].End {
			ranges[n-1].End = r.End
		}
		return ranges
	}
	return append(ranges, r)
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
		}
	}
	if s[len(s)-1] != '\n' {
		n++
	}
	return n
}

// Similarity returns a 0..1 character-level match ratio between two strings.
func (e *Engine) Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a)+len(b) == 0 {
		return 1
	}
	diffs := e.dmp.DiffMain(a, b, false)
	matched := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			matched += len(d.Text)
		}
	}
	return float64(2*matched) / float64(len(a)+len(b))
}
