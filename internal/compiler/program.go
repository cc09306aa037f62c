// Package compiler is the TypeScript front end: tree-sitter parsing, module
// resolution, program construction with reuse of unchanged files,
// syntactic and semantic checks, and emission through a transform hook.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"ngweave/internal/logging"
)

// Host is the file system a program reads sources from and writes output to.
type Host interface {
	ReadFile(path string) (string, error)
	IsFile(path string) bool
	WriteFile(path, content string)
}

// Options configures program construction and emission.
type Options struct {
	BaseDir string
	OutDir  string
	Target  string
	Codegen bool
}

// Stats reports how a program was built.
type Stats struct {
	Parsed int
	Reused int
}

// Transformer turns a source file into emitted JavaScript.
type Transformer interface {
	Transform(sf *SourceFile) (string, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(sf *SourceFile) (string, error)

func (f TransformerFunc) Transform(sf *SourceFile) (string, error) { return f(sf) }

// EmitResult describes one emitted module.
type EmitResult struct {
	Source  string
	OutPath string
	Output  string
}

// Program is the compilation unit: the root modules plus everything they
// reach through relative imports, re-exports and dynamic imports.
type Program struct {
	host  Host
	opts  Options
	roots []string

	files   map[string]*SourceFile
	order   []string
	missing []string
	stats   Stats

	mu       sync.Mutex
	extra    map[string]*SourceFile
	resolved map[string]string
}

// NewProgram builds a program from roots. When old is non-nil, source files
// whose content hash is unchanged are reused instead of re-parsed.
func NewProgram(ctx context.Context, host Host, roots []string, old *Program, opts Options) (*Program, error) {
	start := time.Now()
	p := &Program{
		host:     host,
		opts:     opts,
		roots:    append([]string(nil), roots...),
		files:    make(map[string]*SourceFile),
		extra:    make(map[string]*SourceFile),
		resolved: make(map[string]string),
	}

	seen := make(map[string]bool)
	queue := append([]string(nil), roots...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file := queue[0]
		queue = queue[1:]
		if seen[file] {
			continue
		}
		seen[file] = true

		sf, err := p.parse(ctx, file, old)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var readErr *readError
			if errors.As(err, &readErr) {
				p.missing = append(p.missing, file)
				continue
			}
			return nil, err
		}
		p.files[file] = sf
		p.order = append(p.order, file)

		for _, ref := range sf.ModuleRefs {
			target, ok := p.Resolve(file, ref.Specifier)
			if ok && IsSourcePath(target) && !seen[target] {
				queue = append(queue, target)
			}
		}
	}

	logging.Compile("program: %d files (%d parsed, %d reused) in %v",
		len(p.order), p.stats.Parsed, p.stats.Reused, time.Since(start))
	return p, nil
}

type readError struct {
	path string
	err  error
}

func (e *readError) Error() string { return fmt.Sprintf("read %s: %v", e.path, e.err) }
func (e *readError) Unwrap() error { return e.err }

func (p *Program) parse(ctx context.Context, file string, old *Program) (*SourceFile, error) {
	content, err := p.host.ReadFile(file)
	if err != nil {
		return nil, &readError{path: file, err: err}
	}
	if old != nil {
		if prev := old.lookup(file); prev != nil && prev.Hash == HashContent([]byte(content)) {
			p.stats.Reused++
			return prev, nil
		}
	}
	sf, err := Parse(ctx, file, content)
	if err != nil {
		return nil, err
	}
	p.stats.Parsed++
	logging.CompileDebug("parsed %s", file)
	return sf, nil
}

func (p *Program) lookup(file string) *SourceFile {
	if sf, ok := p.files[file]; ok {
		return sf
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extra[file]
}

// Roots returns the root module list the program was built from.
func (p *Program) Roots() []string {
	return append([]string(nil), p.roots...)
}

// Options returns the program options.
func (p *Program) Options() Options {
	return p.opts
}

// Stats returns parse/reuse counters.
func (p *Program) Stats() Stats {
	return p.stats
}

// Files returns the program's source files in discovery order.
func (p *Program) Files() []*SourceFile {
	out := make([]*SourceFile, 0, len(p.order))
	for _, f := range p.order {
		out = append(out, p.files[f])
	}
	return out
}

// Paths returns the program's file paths in discovery order.
func (p *Program) Paths() []string {
	return append([]string(nil), p.order...)
}

// File returns the program file at path, or nil.
func (p *Program) File(path string) *SourceFile {
	return p.files[path]
}

// Contains reports whether path is part of the program.
func (p *Program) Contains(path string) bool {
	_, ok := p.files[path]
	return ok
}

// Missing returns root or referenced source paths that could not be read.
func (p *Program) Missing() []string {
	return append([]string(nil), p.missing...)
}

// Load returns the parsed file at path, parsing it on demand when it is not
// part of the program. Barrel following and route discovery use it.
func (p *Program) Load(ctx context.Context, file string) (*SourceFile, error) {
	if sf := p.lookup(file); sf != nil {
		return sf, nil
	}
	content, err := p.host.ReadFile(file)
	if err != nil {
		return nil, &readError{path: file, err: err}
	}
	sf, err := Parse(ctx, file, content)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.extra[file] = sf
	p.mu.Unlock()
	return sf, nil
}

// Resolve resolves spec imported from the file at from.
func (p *Program) Resolve(from, spec string) (string, bool) {
	key := from + "\x00" + spec
	p.mu.Lock()
	target, ok := p.resolved[key]
	p.mu.Unlock()
	if ok {
		return target, target != ""
	}
	target, found := ResolveModule(p.host.IsFile, from, spec)
	p.mu.Lock()
	p.resolved[key] = target
	p.mu.Unlock()
	return target, found
}

// ResolveExport finds the module that declares name as exported from file,
// following re-exports, export * and import-then-export chains.
func (p *Program) ResolveExport(ctx context.Context, file, name string) (string, bool) {
	return p.resolveExport(ctx, file, name, make(map[string]bool))
}

func (p *Program) resolveExport(ctx context.Context, file, name string, visited map[string]bool) (string, bool) {
	if visited[file] {
		return "", false
	}
	visited[file] = true

	sf, err := p.Load(ctx, file)
	if err != nil {
		return "", false
	}
	if n, ok := sf.Exports.Local[name]; ok {
		if n.Type() == "export_specifier" {
			if local := n.ChildByFieldName("name"); local != nil {
				ib := sf.FindImport(sf.Text(local), func(string) bool { return true })
				if ib != nil && ib.Imported != "*" {
					if target, ok := p.Resolve(file, ib.Source); ok {
						return p.resolveExport(ctx, target, ib.Imported, visited)
					}
				}
			}
		}
		return file, true
	}
	if re, ok := sf.Exports.ReExports[name]; ok {
		target, ok := p.Resolve(file, re.Source)
		if !ok {
			return "", false
		}
		if re.Imported == "*" {
			return target, true
		}
		return p.resolveExport(ctx, target, re.Imported, visited)
	}
	if name == "default" {
		return "", false
	}
	for _, star := range sf.Exports.Stars {
		target, ok := p.Resolve(file, star)
		if !ok {
			continue
		}
		if found, ok := p.resolveExport(ctx, target, name, visited); ok {
			return found, true
		}
	}
	return "", false
}

// OutPath maps a source path to its emitted path under OutDir.
func (p *Program) OutPath(src string) string {
	return OutPath(p.opts, src)
}

// OutPath maps src to <OutDir>/<path relative to BaseDir>.js. Sources
// outside BaseDir keep only their base name.
func OutPath(opts Options, src string) string {
	var rel string
	base := strings.TrimSuffix(opts.BaseDir, "/")
	if base != "" && strings.HasPrefix(src, base+"/") {
		rel = strings.TrimPrefix(src, base+"/")
	} else {
		rel = path.Base(src)
	}
	ext := path.Ext(rel)
	if strings.HasSuffix(rel, ".d.ts") {
		ext = ".d.ts"
	}
	return path.Join(opts.OutDir, strings.TrimSuffix(rel, ext)+".js")
}

// Emit transforms one program file and writes the output through the host.
// A file with syntax errors yields a *diag.SyntaxError.
func (p *Program) Emit(file string, tr Transformer) (*EmitResult, error) {
	sf := p.File(file)
	if sf == nil {
		return nil, fmt.Errorf("emit %s: not part of the program", file)
	}
	if se := FirstSyntaxError(sf); se != nil {
		return nil, se
	}
	out, err := tr.Transform(sf)
	if err != nil {
		return nil, fmt.Errorf("emit %s: %w", file, err)
	}
	outPath := p.OutPath(file)
	p.host.WriteFile(outPath, out)
	logging.CompileDebug("emitted %s -> %s (%d bytes)", file, outPath, len(out))
	return &EmitResult{Source: file, OutPath: outPath, Output: out}, nil
}
