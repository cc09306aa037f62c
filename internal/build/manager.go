package build

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
	"ngweave/internal/routes"
	"ngweave/internal/transform"
	"ngweave/internal/vfs"
)

// maxDiscoveryRounds bounds how often one build grows the program for lazy
// modules found in modules it just added.
const maxDiscoveryRounds = 8

// TransformerFactory builds the per-build transformer.
type TransformerFactory func(opts transform.Options) compiler.Transformer

// DefaultTransformer composes the standard pass pipeline.
func DefaultTransformer(opts transform.Options) compiler.Transformer {
	return transform.Compose(opts)
}

// Options configures a Manager.
type Options struct {
	Compiler compiler.Options
	// Roots are absolute paths of the root modules.
	Roots         []string
	MainModule    string
	LazyModuleMap bool
	Locale        string
	// TypeCheckWorker skips full diagnostics after the first build; the
	// out-of-process worker reports them instead.
	TypeCheckWorker     bool
	ResourceConcurrency int
	// Resources defaults to reading through the overlay.
	Resources   ResourceLoader
	Transformer TransformerFactory
	// Filter limits which changed sources are considered. Nil accepts all.
	Filter func(path string) bool
	// Store persists routes between sessions. Optional.
	Store *routes.Store
}

// UnknownError is an emission failure that leaves the program in an
// unknown state. The program is discarded and the next build is cold.
type UnknownError struct {
	File  string
	Err   error
	Stack string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown error emitting %s: %v", e.File, e.Err)
}

func (e *UnknownError) Unwrap() error { return e.Err }

// Diagnostic converts the error into an error diagnostic carrying the stack.
func (e *UnknownError) Diagnostic() diag.Diagnostic {
	d := diag.Errorf(diag.CodeUnknownEmitError, "Unknown state while emitting '%s': %v", e.File, e.Err)
	d.Stack = e.Stack
	return d
}

// Manager owns the compilation unit across builds. Builds are serialized.
type Manager struct {
	fs   *vfs.Overlay
	opts Options

	mu        sync.Mutex
	state     State
	program   *compiler.Program
	routes    *routes.Accumulator
	resources *resourceCache
	// pending holds modules a failed build did not get to emit.
	pending map[string]bool
	stats   Stats
}

// NewManager creates a cold manager over fs. When opts.Store is set the
// route accumulator is seeded from it.
func NewManager(ctx context.Context, fs *vfs.Overlay, opts Options) (*Manager, error) {
	if opts.Resources == nil {
		opts.Resources = OverlayResources{FS: fs}
	}
	if opts.Transformer == nil {
		opts.Transformer = DefaultTransformer
	}
	if opts.ResourceConcurrency < 1 {
		opts.ResourceConcurrency = 4
	}
	if opts.Compiler.BaseDir == "" {
		opts.Compiler.BaseDir = fs.BaseDir()
	}
	roots := make([]string, 0, len(opts.Roots))
	for _, r := range opts.Roots {
		roots = append(roots, fs.Normalize(r))
	}
	opts.Roots = roots
	if opts.MainModule != "" {
		opts.MainModule = fs.Normalize(opts.MainModule)
	}

	var initial routes.Map
	if opts.Store != nil {
		m, err := opts.Store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
		initial = m
		logging.Routes("seeded %d routes from store", len(m))
	}

	return &Manager{
		fs:        fs,
		opts:      opts,
		routes:    routes.NewAccumulator(initial),
		resources: newResourceCache(),
		pending:   make(map[string]bool),
	}, nil
}

// State returns the state after the last build.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Program returns the current program, nil when cold.
func (m *Manager) Program() *compiler.Program {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.program
}

// Stats returns the accumulated counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Routes returns the route accumulator.
func (m *Manager) Routes() *routes.Accumulator {
	return m.routes
}

// FS returns the overlay the manager compiles from.
func (m *Manager) FS() *vfs.Overlay {
	return m.fs
}

// Options returns the manager options with defaults applied.
func (m *Manager) Options() Options {
	return m.opts
}

// OutputFor returns the emitted path of the source at src.
func (m *Manager) OutputFor(src string) string {
	return compiler.OutPath(m.opts.Compiler, m.fs.Normalize(src))
}

// Output returns the emitted JavaScript for src, if any.
func (m *Manager) Output(src string) (string, bool) {
	out, err := m.fs.ReadFile(m.OutputFor(src))
	if err != nil {
		return "", false
	}
	return out, true
}

// CreateOrUpdate recreates the program after changed paths were written
// or invalidated, reusing the current program's unchanged files.
func (m *Manager) CreateOrUpdate(ctx context.Context, changed []string) (*compiler.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createOrUpdate(ctx, changed)
}

func (m *Manager) createOrUpdate(ctx context.Context, changed []string) (*compiler.Program, error) {
	for _, p := range changed {
		if !compiler.IsSourcePath(p) {
			m.resources.invalidate(p)
		}
	}
	prog, err := compiler.NewProgram(ctx, m.fs, m.roots(), m.program, m.opts.Compiler)
	if err != nil {
		return nil, err
	}
	m.program = prog
	return prog, nil
}

// roots returns the configured roots plus every lazy route target that
// still exists.
func (m *Manager) roots() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range m.opts.Roots {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, d := range m.routes.ContextDependencies() {
		if d.Key.Variant != routes.VariantSource || seen[d.Path] {
			continue
		}
		if !compiler.IsSourcePath(d.Path) || !m.fs.IsFile(d.Path) {
			continue
		}
		seen[d.Path] = true
		out = append(out, d.Path)
	}
	return out
}

// Emit emits one module of prog. A syntax error is returned as is; any
// other failure, panics included, becomes an *UnknownError.
func (m *Manager) Emit(prog *compiler.Program, file string, tr compiler.Transformer) (res *compiler.EmitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = &UnknownError{File: file, Err: fmt.Errorf("panic: %v", r), Stack: string(debug.Stack())}
		}
	}()
	res, err = prog.Emit(file, tr)
	if err == nil {
		return res, nil
	}
	if _, ok := diag.AsSyntaxError(err); ok {
		return nil, err
	}
	return nil, &UnknownError{File: file, Err: err, Stack: string(debug.Stack())}
}

func (m *Manager) changedSources(all []string) []string {
	outDir := strings.TrimSuffix(m.opts.Compiler.OutDir, "/") + "/"
	var out []string
	for _, p := range all {
		if !compiler.IsSourcePath(p) {
			continue
		}
		if m.opts.Compiler.OutDir != "" && strings.HasPrefix(p, outDir) {
			continue
		}
		if m.opts.Filter != nil && !m.opts.Filter(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Build runs one compilation: program update, route discovery, resource
// preloading, diagnostics and emission of the changed modules. Only
// cancellation is returned as an error; every other failure ends up in the
// result's buckets.
func (m *Manager) Build(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	res := &Result{BuildID: uuid.New(), Buckets: &diag.Buckets{}, Emitted: make(map[string]string)}
	log := logging.Get(logging.CategoryCompile).With("build", res.BuildID.String())

	cold := m.program == nil
	res.Incremental = !cold
	allChanged := m.fs.ChangedPaths()
	changed := m.changedSources(allChanged)
	log.Debug("build start: %s, %d changed sources", m.state, len(changed))

	prog, err := m.createOrUpdate(ctx, allChanged)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return m.fail(res, start, &UnknownError{File: "<program>", Err: err, Stack: string(debug.Stack())}), nil
	}

	depsBefore := dependencyFingerprint(m.routes.ContextDependencies())
	scan := changed
	if cold {
		scan = prog.Paths()
	}
	var added []string
	for round := 0; ; round++ {
		m.discover(ctx, prog, scan, cold, res.Buckets)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		missing := false
		for _, r := range m.roots() {
			if !prog.Contains(r) {
				missing = true
				break
			}
		}
		if !missing || round+1 >= maxDiscoveryRounds {
			break
		}
		before := make(map[string]bool)
		for _, p := range prog.Paths() {
			before[p] = true
		}
		if prog, err = m.createOrUpdate(ctx, nil); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return m.fail(res, start, &UnknownError{File: "<program>", Err: err, Stack: string(debug.Stack())}), nil
		}
		scan = nil
		for _, p := range prog.Paths() {
			if !before[p] {
				scan = append(scan, p)
			}
		}
		added = append(added, scan...)
		log.Debug("program grew by %d lazy modules", len(scan))
	}
	routesChanged := dependencyFingerprint(m.routes.ContextDependencies()) != depsBefore

	if m.opts.Compiler.Codegen {
		m.writeShims(prog, append(append([]string(nil), added...), changed...), cold)
	}

	emit := m.emissionSet(prog, cold, allChanged, changed, added, routesChanged)

	files := make([]*compiler.SourceFile, 0, len(emit))
	for _, p := range emit {
		files = append(files, prog.File(p))
	}
	resDiags, loaded, err := m.resources.preload(ctx, m.opts.Resources, files, m.opts.ResourceConcurrency)
	if err != nil {
		return nil, err
	}
	m.stats.Resources += loaded
	res.Buckets.Add(resDiags...)

	mode := ModeFull
	if m.opts.TypeCheckWorker && m.stats.Builds > 0 {
		mode = ModeFast
	}
	res.Mode = mode
	res.Buckets.Add(GatherDiagnostics(ctx, prog, mode)...)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	for _, k := range m.routes.Stale(m.fs.IsFile) {
		e, _ := m.routes.Lookup(k)
		log.Warn("lazy route %s points at deleted module %s; keeping it", k, e.Path)
	}

	tr := m.opts.Transformer(transform.Options{
		Codegen:       m.opts.Compiler.Codegen,
		MainModule:    m.opts.MainModule,
		LazyModuleMap: m.opts.LazyModuleMap,
		Locale:        m.opts.Locale,
		Routes:        m.routes,
		Resources:     m.resources,
	})
	for i, p := range emit {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out, err := m.Emit(prog, p, tr)
		if err == nil {
			res.Emitted[p] = out.Output
			delete(m.pending, p)
			continue
		}
		if se, ok := diag.AsSyntaxError(err); ok {
			res.Buckets.Add(se.Diagnostic())
			m.pending[p] = true
			continue
		}
		for _, rest := range emit[i:] {
			m.pending[rest] = true
		}
		var ue *UnknownError
		if !errors.As(err, &ue) {
			ue = &UnknownError{File: p, Err: err, Stack: string(debug.Stack())}
		}
		return m.fail(res, start, ue), nil
	}

	m.stats.Builds++
	if cold {
		m.stats.ColdBuilds++
	}
	ps := prog.Stats()
	m.stats.Parsed += ps.Parsed
	m.stats.Reused += ps.Reused
	m.stats.Emitted += len(res.Emitted)
	m.stats.LastEmitted = len(res.Emitted)

	res.Buckets.Sort()
	if res.Buckets.HasErrors() {
		m.state = StateFailed
	} else {
		m.state = StateWarm
	}
	res.State = m.state
	res.Routes = m.routes.Routes()
	res.Duration = time.Since(start)
	log.Info("build %s: %d emitted, %d errors, %d warnings in %v",
		m.state, len(res.Emitted), len(res.Buckets.Errors), len(res.Buckets.Warnings), res.Duration)
	return res, nil
}

// fail discards the program after an unknown error.
func (m *Manager) fail(res *Result, start time.Time, ue *UnknownError) *Result {
	logging.Get(logging.CategoryCompile).Error("%v\n%s", ue, ue.Stack)
	m.program = nil
	m.state = StateCold
	m.stats.Builds++
	m.stats.LastEmitted = len(res.Emitted)
	m.stats.Emitted += len(res.Emitted)
	res.Buckets.Add(ue.Diagnostic())
	res.Buckets.Sort()
	res.State = StateCold
	res.Routes = m.routes.Routes()
	res.Duration = time.Since(start)
	return res
}

// discover refreshes the route map from files. A cold build scans the
// whole program and follows barrels; later builds scan only files.
func (m *Manager) discover(ctx context.Context, prog *compiler.Program, files []string, full bool, buckets *diag.Buckets) {
	var found routes.Map
	if full {
		var diags []diag.Diagnostic
		found, diags = routes.DiscoverProgram(ctx, prog)
		for _, d := range diags {
			if d.Code == diag.CodeRouteConflict {
				buckets.Add(d)
			}
		}
	} else {
		found = routes.DiscoverFiles(ctx, prog, files)
	}
	if m.opts.Compiler.Codegen {
		for k, e := range found.Clone() {
			if k.Variant != routes.VariantSource {
				continue
			}
			g := routes.Entry{}
			if e.Resolved {
				g = routes.ResolvedEntry(transform.FactoryModule(e.Path))
			}
			found[k.Generated()] = g
		}
	}
	for _, c := range m.routes.Merge(found) {
		buckets.Add(c.Diagnostic())
	}
}

// writeShims writes the factory module of every scanned NgModule file
// whose shim is missing or out of date.
func (m *Manager) writeShims(prog *compiler.Program, files []string, all bool) {
	if all {
		files = prog.Paths()
	}
	for _, p := range files {
		sf := prog.File(p)
		if sf == nil {
			continue
		}
		shim := transform.FactoryShims(sf)
		if shim == nil {
			continue
		}
		if cur, err := m.fs.ReadFile(shim.Path); err == nil && cur == shim.Content {
			continue
		}
		m.fs.WriteFile(shim.Path, shim.Content)
		logging.CompileDebug("wrote factory module %s (%s)", shim.Path, strings.Join(shim.Exports, ", "))
	}
}

// emissionSet returns, in program order, the modules to emit: every module
// on a cold build, otherwise the changed ones plus lazy modules added this
// build, components of changed resources, modules left over by a failed
// build, and the main module when the route map changed.
func (m *Manager) emissionSet(prog *compiler.Program, cold bool, allChanged, changed, added []string, routesChanged bool) []string {
	if cold {
		return prog.Paths()
	}
	want := make(map[string]bool)
	for _, p := range changed {
		want[p] = true
	}
	for _, p := range added {
		want[p] = true
	}
	for _, p := range m.resources.dependentsOf(allChanged) {
		want[p] = true
	}
	for p := range m.pending {
		want[p] = true
	}
	if routesChanged && m.opts.LazyModuleMap && m.opts.MainModule != "" {
		want[m.opts.MainModule] = true
	}

	var out []string
	for _, p := range prog.Paths() {
		if want[p] {
			out = append(out, p)
		}
	}
	return out
}

// Commit ends a successful build: the change set is reset and the route
// map is persisted. It does nothing after a failed build.
func (m *Manager) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateWarm {
		return nil
	}
	m.fs.ResetChangeTracking()
	if m.opts.Store == nil {
		return nil
	}
	if err := m.opts.Store.Save(ctx, m.routes.Routes()); err != nil {
		return fmt.Errorf("failed to save routes: %w", err)
	}
	return nil
}

func dependencyFingerprint(deps []routes.Dependency) string {
	parts := make([]string, 0, len(deps))
	for _, d := range deps {
		parts = append(parts, d.Key.String()+"="+d.Path)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}
