package plugin

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"ngweave/internal/build"
	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
	"ngweave/internal/vfs"
)

// LoadResult is what the per-module loader hands to the bundler.
type LoadResult struct {
	Contents string
	// Emitted is false when no output exists and Contents is the source.
	Emitted bool
	// Fresh reports that the content the bundler read matches the overlay,
	// so upstream diagnostics need no re-validation.
	Fresh bool
	// Upstream holds the syntactic diagnostics of stale bundler content.
	Upstream []diag.Diagnostic
}

// Loader serves emitted modules.
type Loader struct {
	mgr   *build.Manager
	cache *ContentCache
}

// NewLoader returns a loader over mgr's output.
func NewLoader(mgr *build.Manager, cache *ContentCache) *Loader {
	return &Loader{mgr: mgr, cache: cache}
}

// Load returns the emitted JavaScript for the module at p. content is what
// the bundler read for p, or empty when it read nothing. Content that
// differs from the overlay is re-parsed and its syntax errors are returned
// in Upstream.
func (l *Loader) Load(ctx context.Context, p, content string) (LoadResult, error) {
	fs := l.mgr.FS()
	p = fs.Normalize(p)

	current, ok := l.current(p)
	if !ok {
		return LoadResult{}, fmt.Errorf("module %s not found", p)
	}
	res := LoadResult{Fresh: content != "" && content == current}
	if !res.Fresh && content != "" && compiler.IsSourcePath(p) {
		sf, err := compiler.Parse(ctx, p, content)
		if err != nil {
			return LoadResult{}, fmt.Errorf("failed to parse bundler content of %s: %w", p, err)
		}
		res.Upstream = compiler.SyntacticDiagnostics(sf)
	}

	if out, ok := l.mgr.Output(p); ok {
		res.Contents = out
		res.Emitted = true
		return res, nil
	}
	// Factory modules and files outside the program are served as written.
	res.Contents = current
	return res, nil
}

func (l *Loader) current(p string) (string, bool) {
	if data, ok, missing := l.cache.Get(p); ok {
		return string(data), true
	} else if missing {
		return "", false
	}
	s, err := l.mgr.FS().ReadFile(p)
	if err != nil {
		return "", false
	}
	return s, true
}

// ResourceLoader loads component resources for inlining: templates as
// written, stylesheets through an esbuild CSS build.
type ResourceLoader struct {
	FS     *vfs.Overlay
	Minify bool
}

var _ build.ResourceLoader = ResourceLoader{}

var styleExts = map[string]bool{".css": true}

// Load implements build.ResourceLoader.
func (r ResourceLoader) Load(ctx context.Context, p string) (string, error) {
	content, err := r.FS.ReadFile(p)
	if err != nil {
		return "", err
	}
	if !styleExts[strings.ToLower(path.Ext(p))] {
		return content, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   content,
			ResolveDir: path.Dir(p),
			Sourcefile: p,
			Loader:     api.LoaderCSS,
		},
		Bundle:            true,
		Write:             false,
		LogLevel:          api.LogLevelSilent,
		MinifyWhitespace:  r.Minify,
		MinifySyntax:      r.Minify,
		MinifyIdentifiers: r.Minify,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("%s: %s", p, result.Errors[0].Text)
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("%s: stylesheet produced no output", p)
	}
	logging.PluginDebug("compiled stylesheet %s", p)
	return string(result.OutputFiles[0].Contents), nil
}
