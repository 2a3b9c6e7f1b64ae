package failure

import "regexp"

// classifyRule maps an output pattern to an error kind. Rules are checked in
// order; the first hit wins, so security kinds come before the generic ones
// their traces would otherwise match.
type classifyRule struct {
	kind    string
	pattern *regexp.Regexp
}

var classifyRules = []classifyRule{
	{KindSQLInjection, regexp.MustCompile(`(?i)sql injection|sqli\b|unsanitized (sql|query)`)},
	{KindXSS, regexp.MustCompile(`(?i)cross.site scripting|\bxss\b|unescaped html`)},
	{KindAuthBypass, regexp.MustCompile(`(?i)auth(entication|orization)? bypass|missing auth(orization)? check`)},
	{KindPathTraversal, regexp.MustCompile(`(?i)path traversal|directory traversal|\.\./\.\.`)},
	{KindCommandInjection, regexp.MustCompile(`(?i)command injection|shell injection|unsanitized command`)},

	{KindTimeout, regexp.MustCompile(`(?i)timed? ?out|TimeoutError|context deadline exceeded|test timed out`)},
	{KindAssertionMismatch, regexp.MustCompile(`AssertionError|assertion failed|(?m)^(E\s+)?\s*assert\b|FAIL: .*Assert|expected .* (but )?got`)},
	{KindSyntaxError, regexp.MustCompile(`SyntaxError|IndentationError|syntax error|unexpected token`)},
	{KindDependencyMissing, regexp.MustCompile(`ModuleNotFoundError|ImportError|cannot find (module|package)|no required module`)},
	{KindNullReference, regexp.MustCompile(`NullPointerException|nil pointer dereference|'NoneType' object|TypeError: .*N(one|ull)|undefined is not`)},
	{KindTypeMismatch, regexp.MustCompile(`TypeError|ClassCastException|cannot use .* as .* value|type mismatch`)},
	{KindIndexOutOfRange, regexp.MustCompile(`IndexError|index out of range|ArrayIndexOutOfBounds|KeyError`)},
	{KindPermissionDenied, regexp.MustCompile(`(?i)permission denied|PermissionError|EACCES`)},
	{KindResourceExhausted, regexp.MustCompile(`(?i)out of memory|MemoryError|too many open files|resource exhausted|OOMKilled`)},
	{KindUnhandledException, regexp.MustCompile(`Traceback \(most recent call last\)|panic:|Exception in thread|Unhandled exception|(?m)^\w*(Error|Exception): `)},
}

// Classify maps raw case output to an error kind. Output that matches no
// rule classifies as Unknown.
func Classify(output string) string {
	for _, r := range classifyRules {
		if r.pattern.MatchString(output) {
			return r.kind
		}
	}
	return KindUnknown
}
