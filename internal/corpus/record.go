// Package corpus holds the indexed defect corpus: historical failure records
// paired with the patches that fixed them. The index is built once per run
// and read-only afterwards; lookups favor recall, leaving precision to the
// ranking layer.
package corpus

import (
	"fmt"
	"strings"
)

// CodeLocation points at the region a historical defect lived in.
type CodeLocation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

// Compat captures the environment a defect's fix is known to apply to.
// Empty fields mean "no constraint".
type Compat struct {
	// Runtime is a version constraint such as ">=3.8" or ">=3.8 <4.0".
	Runtime string `json:"runtime,omitempty"`
	// OS lists compatible operating systems. Empty means any.
	OS []string `json:"os,omitempty"`
	// Deps maps dependency name to a version constraint.
	Deps map[string]string `json:"deps,omitempty"`
}

// DefectRecord is one corpus entry. PatchRef keys the patch body in a
// BodyStore; the record itself never carries the diff text.
type DefectRecord struct {
	ID            string        `json:"id"`
	Project       string        `json:"project"`
	ErrorKind     string        `json:"error_kind"`
	TracebackKey  string        `json:"traceback_key,omitempty"`
	APIImpacted   []string      `json:"api_impacted,omitempty"`
	ModifiedFiles []string      `json:"modified_files,omitempty"`
	Location      *CodeLocation `json:"location,omitempty"`
	Compat        Compat        `json:"compat,omitempty"`
	PatchRef      string        `json:"patch_ref"`
}

// ValidateRecord checks the structural rules every corpus entry must meet.
// Record IDs follow the project__case convention.
func ValidateRecord(r *DefectRecord) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	if r.ID == "" {
		return fmt.Errorf("record has empty id")
	}
	if !strings.Contains(r.ID, "__") {
		return fmt.Errorf("record %s: id must follow project__case form", r.ID)
	}
	if r.Project == "" {
		return fmt.Errorf("record %s: empty project", r.ID)
	}
	if r.ErrorKind == "" {
		return fmt.Errorf("record %s: empty error kind", r.ID)
	}
	if r.PatchRef == "" {
		return fmt.Errorf("record %s: no patch reference", r.ID)
	}
	return nil
}

// ValidatePatchBody checks that a stored patch body is a unified diff.
func ValidatePatchBody(ref, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return fmt.Errorf("patch %s: empty body", ref)
	}
	if !strings.HasPrefix(trimmed, "diff") && !strings.HasPrefix(trimmed, "---") {
		return fmt.Errorf("patch %s: body does not start with a diff header", ref)
	}
	return nil
}
