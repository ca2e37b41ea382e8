// Package parser turns source files into import references and resolves
// them to repository paths.
//
// Extraction is deliberately regex-grade, not AST-grade: it recognizes
// import-like statements well enough to build a useful dependency graph
// without embedding a compiler per language.
package parser

import (
	"path"
	"regexp"
	"strings"
)

// Language identifies a supported source language.
type Language string

const (
	LangJS     Language = "javascript"
	LangPython Language = "python"
)

// supportedExtensions maps file extensions to languages.
var supportedExtensions = map[string]Language{
	".ts":  LangJS,
	".tsx": LangJS,
	".js":  LangJS,
	".jsx": LangJS,
	".py":  LangPython,
}

// DetectLanguage returns the language for a repo path, or false when the
// extension is not supported.
func DetectLanguage(filePath string) (Language, bool) {
	lang, ok := supportedExtensions[strings.ToLower(path.Ext(filePath))]
	return lang, ok
}

// SupportedPath reports whether the path has an extension the graph
// builder should process.
func SupportedPath(filePath string) bool {
	_, ok := DetectLanguage(filePath)
	return ok
}

// ImportExtractor yields the module references a source file declares.
// Implementations must be pure and deterministic for identical input.
type ImportExtractor interface {
	Extract(content []byte, filePath string) []string
}

// RegexExtractor is the default regex-grade extractor.
type RegexExtractor struct{}

// NewExtractor returns the default extractor.
func NewExtractor() *RegexExtractor { return &RegexExtractor{} }

var (
	// import defaultExport from 'mod'; import * as ns from "mod"; import 'mod'
	jsImportFrom = regexp.MustCompile(`(?m)^\s*import\s+(?:[\w*{},\s$]+\s+from\s+)?['"]([^'"]+)['"]`)
	// export { a } from 'mod'; export * from "mod"
	jsExportFrom = regexp.MustCompile(`(?m)^\s*export\s+[\w*{},\s$]*\s*from\s+['"]([^'"]+)['"]`)
	// dynamic import('mod')
	jsDynImport = regexp.MustCompile(`import\s*\(\s*['"]([^'"]+)['"]\s*\)`)
	// require('mod')
	jsRequire = regexp.MustCompile(`require\s*\(\s*['"]([^'"]+)['"]\s*\)`)

	// import a.b, c.d as alias — the rest of the line is parsed in Go
	pyImport = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([^\n#]+)`)
	// from .a.b import c
	pyFromImport = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([\w.]+)[ \t]+import[ \t]`)
)

// Extract returns module references deduplicated, grouped by statement
// kind (each group in source order; for Python, from-imports come first).
// References are returned as written, except Python dotted paths which
// are rewritten to slash form so the resolver can probe them.
func (e *RegexExtractor) Extract(content []byte, filePath string) []string {
	lang, ok := DetectLanguage(filePath)
	if !ok {
		return nil
	}

	switch lang {
	case LangJS:
		return e.extractJS(string(content))
	case LangPython:
		return e.extractPython(string(content))
	}
	return nil
}

func (e *RegexExtractor) extractJS(src string) []string {
	var refs []string
	for _, re := range []*regexp.Regexp{jsImportFrom, jsExportFrom, jsDynImport, jsRequire} {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			refs = append(refs, m[1])
		}
	}
	return dedup(refs)
}

func (e *RegexExtractor) extractPython(src string) []string {
	var refs []string

	for _, m := range pyFromImport.FindAllStringSubmatch(src, -1) {
		if ref := pythonRefToPath(m[1]); ref != "" {
			refs = append(refs, ref)
		}
	}
	for _, m := range pyImport.FindAllStringSubmatch(src, -1) {
		for _, mod := range strings.Split(m[1], ",") {
			mod = strings.TrimSpace(mod)
			// strip trailing "as alias"
			if i := strings.IndexAny(mod, " \t"); i >= 0 {
				mod = mod[:i]
			}
			if ref := pythonRefToPath(mod); ref != "" {
				refs = append(refs, ref)
			}
		}
	}
	return dedup(refs)
}

// pythonRefToPath rewrites dotted Python module references to slash form:
// ".utils" → "./utils", "..pkg.mod" → "../pkg/mod", "a.b" → "a/b".
// Bare-relative refs ("from . import x") map to "." and are dropped.
func pythonRefToPath(ref string) string {
	if ref == "" || strings.Trim(ref, ".") == "" {
		return ""
	}

	leading := 0
	for leading < len(ref) && ref[leading] == '.' {
		leading++
	}
	rest := strings.ReplaceAll(ref[leading:], ".", "/")

	switch leading {
	case 0:
		return rest
	case 1:
		return "./" + rest
	default:
		return strings.Repeat("../", leading-1) + rest
	}
}

func dedup(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0]
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
