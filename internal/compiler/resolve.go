package compiler

import (
	"path"
	"strings"
)

var (
	resolveExtensions = []string{".ts", ".tsx", ".d.ts", ".js", ".jsx"}
	indexFiles        = []string{"index.ts", "index.tsx", "index.js"}
)

// IsRelative reports whether spec is resolved against the importing file
// rather than through package lookup.
func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		spec == "." || spec == ".." || strings.HasPrefix(spec, "/")
}

// ResolveModule resolves a relative or absolute specifier from the file at
// from. Strategies run in order: exact path, known extensions, directory
// index file. Package specifiers are not resolved here; the bundler owns them.
func ResolveModule(isFile func(string) bool, from, spec string) (string, bool) {
	if !IsRelative(spec) {
		return "", false
	}
	target := spec
	if !strings.HasPrefix(spec, "/") {
		target = path.Join(path.Dir(from), spec)
	}
	target = path.Clean(target)

	if path.Ext(target) != "" && isFile(target) {
		return target, true
	}
	// "./x.js" written against a ./x.ts source.
	if strings.HasSuffix(target, ".js") {
		if ts := strings.TrimSuffix(target, ".js") + ".ts"; isFile(ts) {
			return ts, true
		}
	}
	for _, ext := range resolveExtensions {
		if p := target + ext; isFile(p) {
			return p, true
		}
	}
	for _, idx := range indexFiles {
		if p := path.Join(target, idx); isFile(p) {
			return p, true
		}
	}
	return "", false
}
