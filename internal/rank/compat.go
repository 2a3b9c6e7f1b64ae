package rank

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Environment compatibility is a hard filter: a candidate proven
// incompatible with the observed environment is excluded no matter how well
// its other dimensions match. Absent or unparseable information can never
// prove incompatibility, so it passes the filter.

// compatible reports whether env satisfies the candidate's constraints, and
// whether any constraint was actually checked against real information.
func compatible(env map[string]string, c compatSpec) (ok bool, checked bool) {
	if c.Runtime != "" {
		if v, present := env["runtime"]; present {
			checked = true
			if !versionSatisfies(v, c.Runtime) {
				return false, true
			}
		}
	}
	if len(c.OS) > 0 {
		if osName, present := env["os"]; present {
			checked = true
			if !containsFold(c.OS, osName) {
				return false, true
			}
		}
	}
	for dep, constraint := range c.Deps {
		v, present := env["dep:"+dep]
		if !present {
			continue
		}
		checked = true
		if !versionSatisfies(v, constraint) {
			return false, true
		}
	}
	return true, checked
}

type compatSpec struct {
	Runtime string
	OS      []string
	Deps    map[string]string
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// versionSatisfies checks a version against a space-separated list of
// clauses like ">=3.8 <4.0". A bare version means exact match on the
// major.minor.patch triple. Unparseable versions or clauses satisfy
// trivially.
func versionSatisfies(version, constraint string) bool {
	v := canonVersion(version)
	if !semver.IsValid(v) {
		return true
	}
	for _, clause := range strings.Fields(constraint) {
		op := "="
		rest := clause
		for _, candidate := range []string{">=", "<=", "==", ">", "<", "="} {
			if strings.HasPrefix(clause, candidate) {
				op = candidate
				rest = clause[len(candidate):]
				break
			}
		}
		w := canonVersion(rest)
		if !semver.IsValid(w) {
			continue
		}
		cmp := semver.Compare(v, w)
		switch op {
		case ">=":
			if cmp < 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		default:
			if cmp != 0 {
				return false
			}
		}
	}
	return true
}

// canonVersion strips common runtime prefixes and adds the "v" semver
// expects.
func canonVersion(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"go", "python", "node", "v"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	if s == "" {
		return s
	}
	return semver.Canonical("v" + s)
}
