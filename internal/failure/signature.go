package failure

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// frame is one parsed stack frame. File is reduced to its basename and line
// numbers are kept for location reporting only; they never enter the
// signature, which must stay stable across unrelated edits.
type frame struct {
	file string
	line int
	fn   string
}

var (
	// File "/src/app/db.py", line 42, in connect
	pyFrame = regexp.MustCompile(`File "([^"]+)", line (\d+), in (\S+)`)
	// at com.acme.Store.load(Store.java:88)
	javaFrame = regexp.MustCompile(`at ([\w.$]+)\(([\w.$]+\.java):(\d+)\)`)
	// at handleRequest (/srv/app/router.js:17:9)
	jsFrame = regexp.MustCompile(`at ([\w.<>]+) \(([^:)]+):(\d+)(?::\d+)?\)`)
	// app.Store.Load(...) followed by "\t/src/store.go:102 +0x1f"
	goFrame = regexp.MustCompile(`(?m)^(\S+?)\(.*\)\n\t(\S+\.go):(\d+)`)
)

// parseFrames extracts stack frames from raw output, keeping their order of
// appearance. It recognizes Python, Java, JavaScript and Go trace shapes.
func parseFrames(output string) []frame {
	var frames []frame
	for _, m := range pyFrame.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		frames = append(frames, frame{file: path.Base(slashed(m[1])), line: line, fn: m[3]})
	}
	if len(frames) > 0 {
		return frames
	}
	for _, m := range javaFrame.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[3])
		fn := m[1]
		if i := strings.LastIndex(fn, "."); i >= 0 {
			fn = fn[i+1:]
		}
		frames = append(frames, frame{file: m[2], line: line, fn: fn})
	}
	if len(frames) > 0 {
		return frames
	}
	for _, m := range goFrame.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[3])
		fn := m[1]
		if i := strings.LastIndex(fn, "."); i >= 0 {
			fn = fn[i+1:]
		}
		frames = append(frames, frame{file: path.Base(slashed(m[2])), line: line, fn: fn})
	}
	if len(frames) > 0 {
		return frames
	}
	for _, m := range jsFrame.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[3])
		frames = append(frames, frame{file: path.Base(slashed(m[2])), line: line, fn: m[1]})
	}
	return frames
}

// slashed normalizes separators so Windows-style traces reduce cleanly.
func slashed(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// fallbackKeyLen bounds the digest-based key used when no frames parse.
const fallbackKeyLen = 24

// Signature builds the order-stable traceback key for raw output. Frames
// reduce to "file:function" joined in order; an output with no parseable
// frames falls back to a bounded content digest so equal raw failures still
// collide in the index.
func Signature(output string) string {
	frames := parseFrames(output)
	if len(frames) == 0 {
		sum := sha256.Sum256([]byte(strings.TrimSpace(output)))
		return "raw:" + hex.EncodeToString(sum[:])[:fallbackKeyLen]
	}
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = fmt.Sprintf("%s:%s", f.file, f.fn)
	}
	return strings.Join(parts, ">")
}

// errorSite returns the frame closest to the fault for a given trace shape.
// Python traces list the deepest frame last; the others list it first.
func errorSite(output string, frames []frame) frame {
	if len(frames) == 0 {
		return frame{}
	}
	if pyFrame.MatchString(output) {
		return frames[len(frames)-1]
	}
	return frames[0]
}
