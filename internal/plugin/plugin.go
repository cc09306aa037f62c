// Package plugin binds the build manager to esbuild: every bundler build
// first runs an incremental compilation, then resolves and loads modules
// from its output.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"

	"ngweave/internal/build"
	"ngweave/internal/compiler"
	"ngweave/internal/config"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
	"ngweave/internal/routes"
	"ngweave/internal/worker"
)

const (
	// Name is the esbuild plugin name.
	Name = "ngweave"
	// LazyRoutesSpecifier imports the lazy route context module.
	LazyRoutesSpecifier = "ngweave-lazy-routes"
	// LazyNamespace is the esbuild namespace of the context module.
	LazyNamespace = "ngweave-lazy"
)

const sourceFilter = `\.tsx?$`

// Options configures an Instance.
type Options struct {
	// Context bounds compilations. Defaults to context.Background.
	Context context.Context
	// Worker receives changed paths after each build when the project
	// type-checks out of process. Optional.
	Worker   *worker.Client
	Registry *Registry
}

// Instance is the state behind one plugin.
type Instance struct {
	id     uuid.UUID
	cfg    *config.Config
	mgr    *build.Manager
	cache  *ContentCache
	loader *Loader
	opts   Options

	// gate serializes builds from OnStart to OnEnd.
	gate     chan struct{}
	changed  []string
	workerUp bool

	mu      sync.Mutex
	settled chan struct{}
	result  *build.Result
}

// New returns the esbuild plugin for mgr. The instance is registered in
// opts.Registry until esbuild disposes of it.
func New(cfg *config.Config, mgr *build.Manager, opts Options) api.Plugin {
	return NewInstance(cfg, mgr, opts).Plugin()
}

// NewInstance creates and registers an instance.
func NewInstance(cfg *config.Config, mgr *build.Manager, opts Options) *Instance {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry
	}
	cache := NewContentCache()
	settled := make(chan struct{})
	close(settled)
	inst := &Instance{
		id:      uuid.New(),
		cfg:     cfg,
		mgr:     mgr,
		cache:   cache,
		loader:  NewLoader(mgr, cache),
		opts:    opts,
		gate:    make(chan struct{}, 1),
		settled: settled,
	}
	opts.Registry.Register(inst)
	return inst
}

// ID returns the instance's build identity.
func (inst *Instance) ID() uuid.UUID { return inst.id }

// Manager returns the build manager.
func (inst *Instance) Manager() *build.Manager { return inst.mgr }

// LastResult waits for the compilation in flight and returns the most
// recent result.
func (inst *Instance) LastResult() *build.Result {
	inst.wait()
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.result
}

// wait blocks until the current compilation has settled.
func (inst *Instance) wait() {
	inst.mu.Lock()
	settled := inst.settled
	inst.mu.Unlock()
	<-settled
}

// Plugin returns the esbuild plugin.
func (inst *Instance) Plugin() api.Plugin {
	return api.Plugin{Name: Name, Setup: inst.setup}
}

func (inst *Instance) setup(b api.PluginBuild) {
	b.OnStart(inst.onStart)
	b.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(LazyRoutesSpecifier) + "$"}, inst.resolveLazyRoutes)
	b.OnResolve(api.OnResolveOptions{Filter: ".*", Namespace: "file"}, inst.resolve)
	b.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: LazyNamespace}, inst.loadLazyRoutes)
	b.OnLoad(api.OnLoadOptions{Filter: sourceFilter, Namespace: "file"}, inst.load)
	b.OnEnd(inst.onEnd)
	b.OnDispose(func() {
		inst.opts.Registry.Remove(inst.id)
		logging.PluginDebug("instance %s disposed", inst.id)
	})
}

func (inst *Instance) onStart() (api.OnStartResult, error) {
	inst.gate <- struct{}{}
	settled := make(chan struct{})
	inst.mu.Lock()
	inst.settled = settled
	inst.mu.Unlock()
	defer close(settled)

	inst.changed = inst.mgr.FS().ChangedPaths()
	res, err := inst.mgr.Build(inst.opts.Context)
	inst.mu.Lock()
	inst.result = res
	inst.mu.Unlock()
	if err != nil {
		return api.OnStartResult{Errors: []api.Message{{Text: fmt.Sprintf("compilation aborted: %v", err)}}}, nil
	}
	n := inst.mgr.FS().Sync(inst.cache)
	logging.PluginDebug("build %s: synced %d files into the bundler cache", res.BuildID, n)
	return api.OnStartResult{}, nil
}

func (inst *Instance) resolveLazyRoutes(args api.OnResolveArgs) (api.OnResolveResult, error) {
	return api.OnResolveResult{Path: LazyRoutesSpecifier, Namespace: LazyNamespace}, nil
}

// resolve handles TypeScript sources and imports made from them, so that
// files that only exist in the overlay resolve.
func (inst *Instance) resolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if !compiler.IsSourcePath(args.Path) && !compiler.IsSourcePath(args.Importer) {
		return api.OnResolveResult{}, nil
	}
	inst.wait()

	fs := inst.mgr.FS()
	switch {
	case compiler.IsRelative(args.Path):
		from := args.Importer
		if from == "" {
			from = path.Join(args.ResolveDir, "index.ts")
		}
		if target, ok := compiler.ResolveModule(fs.IsFile, fs.Normalize(from), args.Path); ok {
			return api.OnResolveResult{Path: target}, nil
		}
	case strings.HasPrefix(args.Path, "/"):
		if p := fs.Normalize(args.Path); fs.IsFile(p) {
			return api.OnResolveResult{Path: p}, nil
		}
	}
	// Bare specifiers and misses fall through to esbuild.
	return api.OnResolveResult{}, nil
}

func (inst *Instance) load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	inst.wait()
	// esbuild hands plugins no contents, so the bundler's view is the disk.
	var onDisk string
	if data, err := os.ReadFile(filepath.FromSlash(args.Path)); err == nil {
		onDisk = string(data)
	}
	res, err := inst.loader.Load(inst.opts.Context, args.Path, onDisk)
	if err != nil {
		return api.OnLoadResult{}, err
	}
	if !res.Emitted {
		logging.PluginDebug("serving %s unemitted", args.Path)
	}
	// The overlay content is what gets bundled, so problems in the stale
	// copy never fail the build.
	upstream := make([]diag.Diagnostic, 0, len(res.Upstream))
	for _, d := range res.Upstream {
		d.Category = diag.CategoryWarning
		upstream = append(upstream, d)
	}
	if len(upstream) > 0 {
		logging.Plugin("%s differs from disk; %d syntax errors on disk", args.Path, len(upstream))
	}
	// Emitted output may keep imports that only name types; the TS loader
	// drops them.
	return api.OnLoadResult{
		Contents:   &res.Contents,
		ResolveDir: path.Dir(inst.mgr.FS().Normalize(args.Path)),
		Loader:     api.LoaderTS,
		Warnings:   Messages(upstream),
	}, nil
}

func (inst *Instance) loadLazyRoutes(args api.OnLoadArgs) (api.OnLoadResult, error) {
	inst.wait()
	contents := LazyRoutesModule(inst.mgr.Routes().ContextDependencies())
	return api.OnLoadResult{
		Contents:   &contents,
		ResolveDir: inst.mgr.FS().BaseDir(),
		Loader:     api.LoaderJS,
	}, nil
}

// LazyRoutesModule renders the context module: one loader per resolved
// route, keyed by the route string.
func LazyRoutesModule(deps []routes.Dependency) string {
	var b strings.Builder
	b.WriteString("export default {\n")
	for _, d := range deps {
		fmt.Fprintf(&b, "  %s: () => import(%s),\n", compiler.Quote(d.Key.String()), compiler.Quote(d.Path))
	}
	b.WriteString("};\n")
	return b.String()
}

func (inst *Instance) onEnd(result *api.BuildResult) (api.OnEndResult, error) {
	defer func() { <-inst.gate }()

	inst.mu.Lock()
	res := inst.result
	inst.mu.Unlock()
	if res == nil {
		return api.OnEndResult{}, nil
	}
	out := api.OnEndResult{
		Errors:   Messages(res.Buckets.Errors),
		Warnings: Messages(res.Buckets.Warnings),
	}

	// The worker follows every completed build, failed ones included.
	if inst.opts.Worker != nil && inst.cfg != nil && inst.cfg.UsesWorker() {
		if !inst.workerUp {
			inst.opts.Worker.Init(worker.InitFromConfig(inst.cfg))
			inst.workerUp = true
		} else if len(inst.changed) > 0 {
			inst.opts.Worker.Update(inst.changed)
		}
	}

	if res.Failed() {
		logging.Plugin("build %s failed with %d errors", res.BuildID, len(res.Buckets.Errors))
		return out, nil
	}
	if err := inst.mgr.Commit(inst.opts.Context); err != nil {
		logging.Get(logging.CategoryPlugin).Warn("commit failed: %v", err)
	}
	return out, nil
}

// Messages converts diagnostics to esbuild messages.
func Messages(ds []diag.Diagnostic) []api.Message {
	out := make([]api.Message, 0, len(ds))
	for _, d := range ds {
		msg := api.Message{
			PluginName: Name,
			ID:         fmt.Sprintf("NG%d", d.Code),
			Text:       d.Message,
		}
		if d.HasLocation {
			msg.Location = &api.Location{File: d.File, Line: d.Line, Column: d.Column - 1}
		}
		if d.Stack != "" {
			msg.Notes = []api.Note{{Text: d.Stack}}
		}
		out = append(out, msg)
	}
	return out
}
