package patch

import (
	"path"
	"sort"
	"strings"
)

// resolvePath maps a patch path onto an actual repository file: an exact
// relative match first, otherwise the unique file sharing the longest path
// suffix (a bare basename match is the shallowest case of that). Two equally
// good candidates mean the patch was written for a different layout and
// guessing between them would be worse than failing.
func resolvePath(patchPath string, repoPaths []string) (string, *AdaptationError) {
	patchPath = path.Clean(strings.TrimPrefix(patchPath, "./"))

	for _, p := range repoPaths {
		if p == patchPath {
			return p, nil
		}
	}

	type scored struct {
		path  string
		depth int
	}
	var best []scored
	bestDepth := 0
	for _, p := range repoPaths {
		d := suffixDepth(p, patchPath)
		if d == 0 {
			continue
		}
		switch {
		case d > bestDepth:
			bestDepth = d
			best = []scored{{p, d}}
		case d == bestDepth:
			best = append(best, scored{p, d})
		}
	}

	switch len(best) {
	case 1:
		return best[0].path, nil
	case 0:
		return "", &AdaptationError{
			Reason: ReasonPathUnresolved,
			File:   patchPath,
			Detail: "no repository file matches",
		}
	default:
		sort.Slice(best, func(i, j int) bool { return best[i].path < best[j].path })
		names := make([]string, len(best))
		for i, b := range best {
			names[i] = b.path
		}
		return "", &AdaptationError{
			Reason: ReasonPathUnresolved,
			File:   patchPath,
			Detail: "ambiguous between " + strings.Join(names, ", "),
		}
	}
}

// suffixDepth counts how many trailing path segments two paths share.
func suffixDepth(a, b string) int {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	n := 0
	for n < len(as) && n < len(bs) {
		if as[len(as)-1-n] != bs[len(bs)-1-n] {
			break
		}
		n++
	}
	return n
}
