package routes

import (
	"context"
	"path"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/logging"
)

const loadChildren = "loadChildren"

// DeclKind classifies a loadChildren value.
type DeclKind int

const (
	// DeclString is 'module#Export', the form this package tracks.
	DeclString DeclKind = iota
	// DeclImport is () => import('...'); the bundler splits it natively.
	DeclImport
	// DeclDynamic is anything that cannot be analyzed statically.
	DeclDynamic
)

// Declaration is one loadChildren property in a source file.
type Declaration struct {
	Kind  DeclKind
	Key   Key
	Value *sitter.Node
	Line  int
	Col   int
}

// Declarations returns the loadChildren properties of sf in source order.
func Declarations(sf *compiler.SourceFile) []Declaration {
	var out []Declaration
	compiler.Walk(sf.Root, func(n *sitter.Node) bool {
		if n.Type() != "pair" {
			return true
		}
		key := n.ChildByFieldName("key")
		value := n.ChildByFieldName("value")
		if key == nil || value == nil || propertyName(sf, key) != loadChildren {
			return true
		}
		line, col := sf.Position(value)
		d := Declaration{Kind: DeclDynamic, Value: value, Line: line, Col: col}
		switch {
		case compiler.IsStringLiteral(value):
			s, _ := compiler.Unquote(sf.Text(value))
			k, err := ParseKey(s)
			if err != nil {
				break
			}
			d.Kind = DeclString
			d.Key = k
		case callsImport(value):
			d.Kind = DeclImport
		}
		out = append(out, d)
		return true
	})
	return out
}

func propertyName(sf *compiler.SourceFile, key *sitter.Node) string {
	text := sf.Text(key)
	if compiler.IsStringLiteral(key) {
		if s, ok := compiler.Unquote(text); ok {
			return s
		}
	}
	return text
}

func callsImport(n *sitter.Node) bool {
	if n.Type() != "arrow_function" && n.Type() != "function_expression" && n.Type() != "function" {
		return false
	}
	found := false
	compiler.Walk(n, func(c *sitter.Node) bool {
		if found {
			return false
		}
		if c.Type() == "call_expression" {
			if fn := c.ChildByFieldName("function"); fn != nil && fn.Type() == "import" {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

// resolveModule resolves a route module specifier. Relative specifiers are
// resolved against the declaring file, bare ones against the base directory.
func resolveModule(prog *compiler.Program, from, module string) (string, bool) {
	if compiler.IsRelative(module) {
		return prog.Resolve(from, module)
	}
	base := prog.Options().BaseDir
	if base == "" {
		base = "/"
	}
	return prog.Resolve(path.Join(base, "index.ts"), "./"+module)
}

// DiscoverProgram scans every program file for string routes and resolves
// each to the module that declares its export, following barrel files.
// Unresolved targets are returned as null entries plus warnings.
func DiscoverProgram(ctx context.Context, prog *compiler.Program) (Map, []diag.Diagnostic) {
	found := make(Map)
	var diags []diag.Diagnostic
	for _, sf := range prog.Files() {
		if ctx.Err() != nil {
			break
		}
		for _, d := range Declarations(sf) {
			if d.Kind != DeclString {
				continue
			}
			entry := Entry{}
			if file, ok := resolveModule(prog, sf.Path, d.Key.Module); ok {
				if target, ok := prog.ResolveExport(ctx, file, d.Key.Export); ok {
					entry = ResolvedEntry(target)
				}
			}
			if !entry.Resolved {
				diags = append(diags, diag.Warningf(diag.CodeUnresolvedRoute,
					"Cannot resolve lazy route '%s'.", d.Key.String()).At(sf.Path, d.Line, d.Col))
			}
			if c := mergeFound(found, d.Key, entry); c != nil {
				diags = append(diags, c.Diagnostic().At(sf.Path, d.Line, d.Col))
			}
		}
	}
	logging.RoutesDebug("discovered %d routes in %d files", len(found), len(prog.Paths()))
	return found, diags
}

// DiscoverFiles scans only the given files. Specifiers are resolved to a
// file but barrels are not followed. Files outside the program are parsed
// on demand; unreadable files are skipped.
func DiscoverFiles(ctx context.Context, prog *compiler.Program, files []string) Map {
	found := make(Map)
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if !compiler.IsSourcePath(f) {
			continue
		}
		sf, err := prog.Load(ctx, f)
		if err != nil {
			logging.RoutesDebug("skipping %s: %v", f, err)
			continue
		}
		for _, d := range Declarations(sf) {
			if d.Kind != DeclString {
				continue
			}
			entry := Entry{}
			if file, ok := resolveModule(prog, sf.Path, d.Key.Module); ok {
				entry = ResolvedEntry(file)
			}
			if c := mergeFound(found, d.Key, entry); c != nil {
				logging.Get(logging.CategoryRoutes).Warn("route %s declared for both %s and %s", c.Key, c.Old.Path, c.New.Path)
			}
		}
	}
	return found
}

// mergeFound applies the accumulator policy within one scan: a resolved
// entry with a different path replaces the earlier one and is a conflict.
func mergeFound(m Map, k Key, e Entry) *Conflict {
	prev, ok := m[k]
	if !ok || !prev.Resolved {
		m[k] = e
		return nil
	}
	if e.Resolved && e.Path != prev.Path {
		m[k] = e
		return &Conflict{Key: k, Old: prev, New: e}
	}
	return nil
}

// Lint reports loadChildren values that cannot be analyzed.
func Lint(sf *compiler.SourceFile) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range Declarations(sf) {
		if d.Kind != DeclDynamic {
			continue
		}
		out = append(out, diag.Warningf(diag.CodeNonStaticRoute,
			"loadChildren value is not statically analyzable; the route will not be code-split.").At(sf.Path, d.Line, d.Col))
	}
	return out
}
