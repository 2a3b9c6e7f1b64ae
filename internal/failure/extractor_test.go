package failure

import (
	"strings"
	"testing"

	"remedy/internal/runner"
)

const pyTrace = `Traceback (most recent call last):
  File "/srv/app/tests/test_db.py", line 12, in test_connect
    db.connect()
  File "/srv/app/db.py", line 42, in connect
    raise ValueError("bad dsn")
ValueError: bad dsn
`

func TestClassify(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"AssertionError: 1 != 2", KindAssertionMismatch},
		{"E       assert resp.status == 200", KindAssertionMismatch},
		{"test timed out after 30s", KindTimeout},
		{"ModuleNotFoundError: No module named 'redis'", KindDependencyMissing},
		{"SyntaxError: invalid syntax", KindSyntaxError},
		{"AttributeError: 'NoneType' object has no attribute 'close'", KindNullReference},
		{"panic: runtime error: invalid memory address or nil pointer dereference", KindNullReference},
		{"IndexError: list index out of range", KindIndexOutOfRange},
		{"detected SQL injection in query builder", KindSQLInjection},
		{"reflected XSS in search endpoint", KindXSS},
		{pyTrace, KindUnhandledException},
		{"some unstructured noise", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.output); got != tt.want {
			t.Errorf("Classify(%.40q) = %s, want %s", tt.output, got, tt.want)
		}
	}
}

func TestSignature_PythonFramesInOrder(t *testing.T) {
	got := Signature(pyTrace)
	want := "test_db.py:test_connect>db.py:connect"
	if got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}

func TestSignature_StableAcrossLineShifts(t *testing.T) {
	shifted := strings.ReplaceAll(pyTrace, "line 42", "line 57")
	if Signature(pyTrace) != Signature(shifted) {
		t.Error("signature changed when only line numbers moved")
	}
}

func TestSignature_FallbackIsBoundedAndDeterministic(t *testing.T) {
	out := "something entirely freeform\nno frames at all"
	a, b := Signature(out), Signature(out)
	if a != b {
		t.Errorf("fallback signature nondeterministic: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "raw:") {
		t.Errorf("fallback signature = %q, want raw: prefix", a)
	}
	if len(a) > len("raw:")+fallbackKeyLen {
		t.Errorf("fallback signature too long: %d chars", len(a))
	}
	if Signature("different noise") == a {
		t.Error("distinct outputs collided on fallback signature")
	}
}

func TestSignature_JavaFrames(t *testing.T) {
	trace := `Exception in thread "main" java.lang.NullPointerException
	at com.acme.Store.load(Store.java:88)
	at com.acme.Main.run(Main.java:12)`
	got := Signature(trace)
	want := "Store.java:load>Main.java:run"
	if got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}

func TestExtract_BuildsRecordsForFailuresOnly(t *testing.T) {
	out := &runner.RawOutput{
		Cases: []runner.CaseResult{
			{CaseID: "ok", Status: runner.StatusPassed, Passed: true, Output: "all good"},
			{CaseID: "bad", Status: runner.StatusFailed, Output: pyTrace, ExitCode: 1},
		},
	}

	records, ambiguous := NewExtractor(map[string]string{"dep:django": "4.2"}).Extract(out)
	if len(ambiguous) != 0 {
		t.Fatalf("ambiguities = %v, want none", ambiguous)
	}
	if len(records) != 1 {
		t.Fatalf("record count = %d, want 1", len(records))
	}

	rec := records[0]
	if rec.CaseID != "bad" {
		t.Errorf("CaseID = %s, want bad", rec.CaseID)
	}
	if rec.ErrorKind != KindUnhandledException {
		t.Errorf("ErrorKind = %s, want %s", rec.ErrorKind, KindUnhandledException)
	}
	if rec.AffectedInterface != "connect" {
		t.Errorf("AffectedInterface = %s, want connect", rec.AffectedInterface)
	}
	if rec.Location == nil || rec.Location.Path != "db.py" || rec.Location.StartLine != 42 {
		t.Errorf("Location = %+v, want db.py:42", rec.Location)
	}
	if rec.Environment["dep:django"] != "4.2" {
		t.Errorf("Environment missing extra entry: %v", rec.Environment)
	}
	if rec.Environment["os"] == "" {
		t.Error("Environment missing host os")
	}
}

func TestExtract_SilentErroredCaseYieldsUnknownRecord(t *testing.T) {
	out := &runner.RawOutput{
		Cases: []runner.CaseResult{
			{CaseID: "ghost", Status: runner.StatusErrored, Output: ""},
		},
	}
	records, ambiguous := NewExtractor(nil).Extract(out)
	if len(records) != 1 {
		t.Fatalf("records = %v, want one Unknown record", records)
	}
	if records[0].CaseID != "ghost" || records[0].ErrorKind != KindUnknown {
		t.Errorf("record = %+v, want ghost with kind %s", records[0], KindUnknown)
	}
	if records[0].TracebackKey == "" {
		t.Error("TracebackKey empty, want hashed fallback")
	}
	if len(ambiguous) != 1 || ambiguous[0].CaseID != "ghost" {
		t.Errorf("ambiguities = %v, want one for ghost", ambiguous)
	}
}

func TestExtract_NilOutput(t *testing.T) {
	records, ambiguous := NewExtractor(nil).Extract(nil)
	if records != nil || ambiguous != nil {
		t.Errorf("Extract(nil) = %v, %v, want nil, nil", records, ambiguous)
	}
}

func TestIsSecurityKind(t *testing.T) {
	if !IsSecurityKind(KindSQLInjection) {
		t.Error("SqlInjection not flagged as security kind")
	}
	if IsSecurityKind(KindAssertionMismatch) {
		t.Error("AssertionMismatch wrongly flagged as security kind")
	}
}
