package transform

import (
	"time"

	"ngweave/internal/compiler"
	"ngweave/internal/logging"
	"ngweave/internal/routes"
)

// Pass produces operations for one source file. Passes are pure and do
// not know about each other.
type Pass struct {
	Name string
	Ops  func(sf *compiler.SourceFile) []Op
}

// RouteTable is the accumulated lazy route map as seen by the passes.
type RouteTable interface {
	ContextDependencies() []routes.Dependency
}

// ResourceSource returns preloaded template and stylesheet content by
// absolute path.
type ResourceSource interface {
	Get(path string) (string, bool)
}

// Options selects and configures the passes of a pipeline.
type Options struct {
	// Codegen enables decorator removal, bootstrap replacement, factory
	// exports and route rewriting.
	Codegen bool
	// MainModule is the absolute path of the application entry.
	MainModule    string
	LazyModuleMap bool
	Locale        string
	Routes        RouteTable
	Resources     ResourceSource
}

// Pipeline runs passes in order and applies their combined operations.
// Dead-import elision always runs last, over the combined list.
type Pipeline struct {
	passes  []Pass
	applier Applier
}

var _ compiler.Transformer = (*Pipeline)(nil)

// NewPipeline returns a pipeline applying passes with the structural engine.
func NewPipeline(passes ...Pass) *Pipeline {
	return &Pipeline{passes: passes, applier: Structural{}}
}

// Compose builds the pipeline for opts.
func Compose(opts Options) *Pipeline {
	passes := []Pass{EraseTypes()}
	if opts.Resources != nil {
		passes = append(passes, ReplaceResources(opts.Resources))
	}
	if opts.Codegen {
		passes = append(passes, RemoveDecorators())
		if opts.MainModule != "" {
			passes = append(passes, ReplaceBootstrap(opts.MainModule, opts.Locale))
		}
		passes = append(passes, ExportNgFactory(), RewriteRoutes())
	}
	if opts.LazyModuleMap && opts.MainModule != "" && opts.Routes != nil {
		passes = append(passes, ExportLazyModuleMap(opts.MainModule, opts.Routes, opts.Codegen))
	}
	return NewPipeline(passes...)
}

// Passes returns the names of the pipeline's passes in order.
func (p *Pipeline) Passes() []string {
	out := make([]string, 0, len(p.passes)+1)
	for _, ps := range p.passes {
		out = append(out, ps.Name)
	}
	return append(out, elideImportsName)
}

// Ops runs every pass over sf and returns the combined operations,
// including the import elisions they cause.
func (p *Pipeline) Ops(sf *compiler.SourceFile) []Op {
	var ops []Op
	for _, ps := range p.passes {
		for _, op := range ps.Ops(sf) {
			op.Pass = ps.Name
			ops = append(ops, op)
		}
	}
	for _, op := range ElideImports(sf, ops) {
		op.Pass = elideImportsName
		ops = append(ops, op)
	}
	return ops
}

// Transform implements compiler.Transformer.
func (p *Pipeline) Transform(sf *compiler.SourceFile) (string, error) {
	start := time.Now()
	ops := p.Ops(sf)
	out, err := p.applier.Apply(sf, ops)
	if err != nil {
		return "", err
	}
	logging.TransformDebug("%s: %d ops in %v", sf.Path, len(ops), time.Since(start))
	return out, nil
}
