package build

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
	"ngweave/internal/transform"
	"ngweave/internal/vfs"
)

// ResourceLoader loads a component template or stylesheet by absolute path
// and returns the content to inline.
type ResourceLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// OverlayResources reads resources through the overlay as-is.
type OverlayResources struct {
	FS *vfs.Overlay
}

// Load implements ResourceLoader.
func (r OverlayResources) Load(_ context.Context, path string) (string, error) {
	return r.FS.ReadFile(path)
}

// resourceCache holds preloaded resource content and remembers which
// modules reference each resource, so a resource change re-emits them.
type resourceCache struct {
	mu         sync.RWMutex
	content    map[string]string
	dependents map[string]map[string]bool
}

var _ transform.ResourceSource = (*resourceCache)(nil)

func newResourceCache() *resourceCache {
	return &resourceCache{
		content:    make(map[string]string),
		dependents: make(map[string]map[string]bool),
	}
}

// Get implements transform.ResourceSource.
func (c *resourceCache) Get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.content[path]
	return s, ok
}

func (c *resourceCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.content, path)
}

// dependentsOf returns the modules referencing any of paths.
func (c *resourceCache) dependentsOf(paths []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	for _, p := range paths {
		for src := range c.dependents[p] {
			seen[src] = true
		}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

type pendingResource struct {
	res transform.Resource
	sf  *compiler.SourceFile
}

// preload loads every static resource referenced by files that is not
// cached yet. Up to limit loads run concurrently. Load failures become
// diagnostics; only cancellation is returned as an error.
func (c *resourceCache) preload(ctx context.Context, loader ResourceLoader, files []*compiler.SourceFile, limit int) ([]diag.Diagnostic, int, error) {
	var pending []pendingResource
	queued := make(map[string]bool)

	c.mu.Lock()
	for _, sf := range files {
		for _, r := range transform.FindResources(sf) {
			if !r.Static {
				continue
			}
			if c.dependents[r.Path] == nil {
				c.dependents[r.Path] = make(map[string]bool)
			}
			c.dependents[r.Path][sf.Path] = true
			if _, ok := c.content[r.Path]; ok || queued[r.Path] {
				continue
			}
			queued[r.Path] = true
			pending = append(pending, pendingResource{res: r, sf: sf})
		}
	}
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil, 0, nil
	}
	if limit < 1 {
		limit = 1
	}

	var (
		mu    sync.Mutex
		diags []diag.Diagnostic
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, p := range pending {
		p := p
		eg.Go(func() error {
			content, err := loader.Load(egCtx, p.res.Path)
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				line, col := p.sf.Position(p.res.Node)
				d := diag.Warningf(diag.CodeResourceNotFound, "Could not load resource '%s': %v", p.res.Path, err).At(p.sf.Path, line, col)
				mu.Lock()
				diags = append(diags, d)
				mu.Unlock()
				return nil
			}
			c.mu.Lock()
			c.content[p.res.Path] = content
			c.mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return diags, 0, err
		}
		return diags, 0, fmt.Errorf("preload resources: %w", err)
	}
	diag.Sort(diags)
	logging.CompileDebug("preloaded %d resources (%d failed)", len(pending)-len(diags), len(diags))
	return diags, len(pending) - len(diags), nil
}
