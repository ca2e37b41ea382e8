package parser

import (
	"path"
	"strings"
)

// candidateSuffixes is the probe order for resolving an import reference
// to a concrete file.
var candidateSuffixes = []string{
	"", ".ts", ".tsx", ".js", ".jsx", ".py",
	"/index.ts", "/index.tsx", "/index.js", "/index.jsx", "/__init__.py",
}

// PathSet is the set of all known repo-relative file paths.
type PathSet map[string]struct{}

// NewPathSet builds a PathSet from a slice of paths.
func NewPathSet(paths []string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

// Resolve maps an import reference found in sourceFile to a repo-relative
// path. Non-relative references are treated as external packages and
// return ("", false).
func Resolve(ref, sourceFile string, known PathSet) (string, bool) {
	if !strings.HasPrefix(ref, "./") && !strings.HasPrefix(ref, "../") {
		return "", false
	}

	base := path.Join(path.Dir(sourceFile), ref)
	base = path.Clean(base)
	if base == "." || strings.HasPrefix(base, "../") {
		return "", false
	}

	for _, suffix := range candidateSuffixes {
		candidate := base + suffix
		if _, ok := known[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}
