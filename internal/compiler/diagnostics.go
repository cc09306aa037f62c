package compiler

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/diag"
)

const maxSnippet = 20

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
}

func syntaxErrorAt(sf *SourceFile, n *sitter.Node) *diag.SyntaxError {
	line, col := sf.Position(n)
	if n.IsMissing() {
		return &diag.SyntaxError{File: sf.Path, Line: line, Column: col, Code: diag.CodeSyntax,
			Msg: fmt.Sprintf("'%s' expected.", n.Type())}
	}
	text := snippet(sf.Text(n))
	msg := "Unexpected token."
	if text != "" {
		msg = fmt.Sprintf("Unexpected token '%s'.", text)
	}
	return &diag.SyntaxError{File: sf.Path, Line: line, Column: col, Code: diag.CodeUnexpectedToken, Msg: msg}
}

func syntaxErrors(sf *SourceFile, limit int) []*diag.SyntaxError {
	var out []*diag.SyntaxError
	if !sf.HasErrors() {
		return nil
	}
	Walk(sf.Root, func(n *sitter.Node) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			out = append(out, syntaxErrorAt(sf, n))
			return false
		}
		return n.HasError()
	})
	return out
}

// FirstSyntaxError returns the first syntax error in sf, or nil.
func FirstSyntaxError(sf *SourceFile) *diag.SyntaxError {
	errs := syntaxErrors(sf, 1)
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// SyntacticDiagnostics reports every ERROR and MISSING node in sf.
func SyntacticDiagnostics(sf *SourceFile) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, se := range syntaxErrors(sf, 0) {
		out = append(out, se.Diagnostic())
	}
	return out
}

// GlobalDiagnostics reports program-level problems such as unreadable roots.
func (p *Program) GlobalDiagnostics() []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, m := range p.missing {
		out = append(out, diag.Errorf(diag.CodeFileNotFound, "File '%s' not found.", m))
	}
	return out
}

// SemanticDiagnostics checks module and export resolution and duplicate
// module-level declarations.
func (p *Program) SemanticDiagnostics(ctx context.Context, sf *SourceFile) []diag.Diagnostic {
	var out []diag.Diagnostic

	for _, ref := range sf.ModuleRefs {
		if !IsRelative(ref.Specifier) {
			continue
		}
		if _, ok := p.Resolve(sf.Path, ref.Specifier); !ok {
			line, col := sf.Position(ref.Node)
			out = append(out, diag.Errorf(diag.CodeModuleNotFound,
				"Cannot find module '%s' or its corresponding type declarations.", ref.Specifier).At(sf.Path, line, col))
		}
	}

	for _, d := range sf.Imports {
		if ctx.Err() != nil {
			return out
		}
		if !IsRelative(d.Source) {
			continue
		}
		target, ok := p.Resolve(sf.Path, d.Source)
		if !ok || !IsSourcePath(target) {
			continue
		}
		for _, b := range d.Bindings {
			if b.Imported == "*" {
				continue
			}
			if _, ok := p.ResolveExport(ctx, target, b.Imported); ok {
				continue
			}
			line, col := sf.Position(b.Specifier)
			msg := fmt.Sprintf("Module '%s' has no exported member '%s'.", d.Source, b.Imported)
			if b.Imported == "default" {
				msg = fmt.Sprintf("Module '%s' has no default export.", d.Source)
			}
			out = append(out, diag.Errorf(diag.CodeExportNotFound, "%s", msg).At(sf.Path, line, col))
		}
	}

	out = append(out, duplicateDeclarations(sf)...)
	return out
}

// duplicateDeclarations reports module-level value names declared twice.
// Declaration merging (interfaces, namespaces, enums, overloads, var) is
// legal and not reported.
func duplicateDeclarations(sf *SourceFile) []diag.Diagnostic {
	var out []diag.Diagnostic
	seen := make(map[string]bool)

	check := func(id *sitter.Node) {
		name := sf.Text(id)
		if seen[name] {
			line, col := sf.Position(id)
			out = append(out, diag.Errorf(diag.CodeDuplicateDecl, "Duplicate identifier '%s'.", name).At(sf.Path, line, col))
			return
		}
		seen[name] = true
	}

	for _, d := range sf.Imports {
		if d.TypeOnly {
			continue
		}
		for _, b := range d.Bindings {
			if !b.TypeOnly {
				check(b.Node)
			}
		}
	}

	for _, stmt := range NamedChildren(sf.Root) {
		decl := stmt
		if stmt.Type() == "export_statement" {
			decl = stmt.ChildByFieldName("declaration")
			if decl == nil {
				continue
			}
		}
		switch decl.Type() {
		case "class_declaration", "abstract_class_declaration", "function_declaration", "generator_function_declaration":
			if name := decl.ChildByFieldName("name"); name != nil {
				check(name)
			}
		case "lexical_declaration":
			for _, v := range NamedChildren(decl) {
				if v.Type() != "variable_declarator" {
					continue
				}
				forEachPatternIdent(v.ChildByFieldName("name"), check)
			}
		}
	}
	return out
}
