package routes

import (
	"sync"

	"ngweave/internal/diag"
	"ngweave/internal/logging"
)

// Conflict records a key whose resolved path changed between discoveries.
// The newer path wins.
type Conflict struct {
	Key Key
	Old Entry
	New Entry
}

// Diagnostic renders c as a route-conflict warning.
func (c Conflict) Diagnostic() diag.Diagnostic {
	return diag.Warningf(diag.CodeRouteConflict,
		"Duplicated path in loadChildren detected: %q is used for %q and %q. The latest declaration wins.",
		c.Key.String(), c.Old.Path, c.New.Path)
}

// Merge folds discovered into acc and returns the conflicts.
//
//   - a key not yet in acc is inserted, resolved or not
//   - a resolved value that differs from the stored one overwrites it and
//     is reported as a conflict
//   - an unresolved value never overwrites a resolved one
func Merge(acc, discovered Map) []Conflict {
	var conflicts []Conflict
	for _, k := range discovered.Keys() {
		next := discovered[k]
		prev, ok := acc[k]
		switch {
		case !ok:
			acc[k] = next
		case !next.Resolved:
			if prev.Resolved {
				logging.Get(logging.CategoryRoutes).Warn("route %s no longer resolves; keeping %s", k, prev.Path)
			}
		case !prev.Resolved:
			acc[k] = next
		case prev.Path != next.Path:
			conflicts = append(conflicts, Conflict{Key: k, Old: prev, New: next})
			acc[k] = next
		}
	}
	return conflicts
}

// Dependency is one module the lazy-routes context must depend on.
type Dependency struct {
	Key  Key
	Path string
}

// Accumulator owns the route map for one build session. It is safe for
// concurrent readers; Merge is called by the build pipeline only.
type Accumulator struct {
	mu     sync.RWMutex
	routes Map
}

// NewAccumulator returns an accumulator seeded with initial, which may be nil.
func NewAccumulator(initial Map) *Accumulator {
	a := &Accumulator{routes: make(Map)}
	if initial != nil {
		Merge(a.routes, initial)
	}
	return a
}

// Merge folds discovered routes into the accumulated map.
func (a *Accumulator) Merge(discovered Map) []Conflict {
	a.mu.Lock()
	defer a.mu.Unlock()
	conflicts := Merge(a.routes, discovered)
	for _, c := range conflicts {
		logging.Get(logging.CategoryRoutes).Warn("route %s moved from %s to %s", c.Key, c.Old.Path, c.New.Path)
	}
	logging.RoutesDebug("merged %d discovered routes, %d accumulated", len(discovered), len(a.routes))
	return conflicts
}

// Routes returns a copy of the accumulated map.
func (a *Accumulator) Routes() Map {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.routes.Clone()
}

// Lookup returns the entry for k.
func (a *Accumulator) Lookup(k Key) (Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.routes[k]
	return e, ok
}

// Len returns the number of accumulated routes.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.routes)
}

// ContextDependencies returns the resolved routes in key order. The bundler
// treats them as the dependencies of the lazy-routes context module.
func (a *Accumulator) ContextDependencies() []Dependency {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Dependency
	for _, k := range a.routes.Keys() {
		if e := a.routes[k]; e.Resolved {
			out = append(out, Dependency{Key: k, Path: e.Path})
		}
	}
	return out
}

// Stale returns resolved routes whose target no longer exists. They are
// kept; the caller only reports them.
func (a *Accumulator) Stale(exists func(path string) bool) []Key {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Key
	for _, k := range a.routes.Keys() {
		if e := a.routes[k]; e.Resolved && !exists(e.Path) {
			out = append(out, k)
		}
	}
	return out
}
