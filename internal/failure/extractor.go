package failure

import (
	"runtime"

	"remedy/internal/logging"
	"remedy/internal/runner"
)

// Extractor turns the raw output of a test pass into failure records. It is
// stateless apart from the environment stamp carried onto every record.
type Extractor struct {
	env map[string]string
}

// NewExtractor returns an extractor that stamps records with the host
// environment merged with extra entries. Extra entries win on collision.
func NewExtractor(extra map[string]string) *Extractor {
	env := HostEnvironment()
	for k, v := range extra {
		env[k] = v
	}
	return &Extractor{env: env}
}

// HostEnvironment returns the baseline environment facts of this process.
func HostEnvironment() map[string]string {
	return map[string]string{
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
		"runtime": runtime.Version(),
	}
}

// Extract builds one record per failed case. It never errors: a case with
// no discernible error text still yields a record with kind Unknown, noted
// as an ambiguity alongside.
func (e *Extractor) Extract(out *runner.RawOutput) ([]Record, []Ambiguity) {
	if out == nil {
		return nil, nil
	}

	var records []Record
	var ambiguous []Ambiguity
	for _, c := range out.Failures() {
		rec := e.extractCase(c)
		if len(c.Output) == 0 {
			ambiguous = append(ambiguous, Ambiguity{CaseID: c.CaseID, Reason: "no diagnostic output"})
			logging.ExtractDebug("case %s: no extractable signal", c.CaseID)
		}
		records = append(records, rec)
		logging.Extract("case %s: kind=%s key=%.40s", rec.CaseID, rec.ErrorKind, rec.TracebackKey)
	}
	return records, ambiguous
}

func (e *Extractor) extractCase(c runner.CaseResult) Record {
	rec := Record{
		CaseID:       c.CaseID,
		ErrorKind:    Classify(c.Output),
		TracebackKey: Signature(c.Output),
		Environment:  cloneEnv(e.env),
	}

	frames := parseFrames(c.Output)
	if site := errorSite(c.Output, frames); site.file != "" {
		rec.AffectedInterface = site.fn
		rec.Location = &Location{Path: site.file, StartLine: site.line, EndLine: site.line}
	}
	return rec
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
