// Package failure turns raw test output into structured failure signals.
// Extraction is pure text analysis: it never touches the repository, never
// executes anything, and never fails a run. What it cannot parse it reports
// as an ambiguity and moves past.
package failure

// Error kinds recognized by the classifier. Unknown is the floor, never an
// error condition.
const (
	KindAssertionMismatch  = "AssertionMismatch"
	KindUnhandledException = "UnhandledException"
	KindTimeout            = "Timeout"
	KindSyntaxError        = "SyntaxError"
	KindDependencyMissing  = "DependencyMissing"
	KindNullReference      = "NullReference"
	KindTypeMismatch       = "TypeMismatch"
	KindIndexOutOfRange    = "IndexOutOfRange"
	KindPermissionDenied   = "PermissionDenied"
	KindResourceExhausted  = "ResourceExhausted"
	KindSQLInjection       = "SqlInjection"
	KindXSS                = "XSS"
	KindAuthBypass         = "AuthBypass"
	KindPathTraversal      = "PathTraversal"
	KindCommandInjection   = "CommandInjection"
	KindUnknown            = "Unknown"
)

// securityKinds flag failures with a security dimension for reporting.
var securityKinds = map[string]bool{
	KindSQLInjection:     true,
	KindXSS:              true,
	KindAuthBypass:       true,
	KindPathTraversal:    true,
	KindCommandInjection: true,
}

// IsSecurityKind reports whether kind carries a security flag.
func IsSecurityKind(kind string) bool { return securityKinds[kind] }

// Location points at the source position a failure surfaced from.
type Location struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Record is one structured failure signal extracted from a test pass.
type Record struct {
	CaseID            string            `json:"case_id"`
	ErrorKind         string            `json:"error_kind"`
	TracebackKey      string            `json:"traceback_key"`
	AffectedInterface string            `json:"affected_interface,omitempty"`
	Location          *Location         `json:"location,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
}

// Ambiguity notes a failed case whose output carried no extractable signal.
// Ambiguities are informational, never fatal.
type Ambiguity struct {
	CaseID string `json:"case_id"`
	Reason string `json:"reason"`
}
