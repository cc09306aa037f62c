package transform

import (
	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

// RemoveDecorators drops every decorator imported from @angular/core.
// Decorators from other modules are kept.
func RemoveDecorators() Pass {
	return Pass{Name: "remove-decorators", Ops: func(sf *compiler.SourceFile) []Op {
		syms := sf.Symbols()
		var ops []Op
		compiler.Walk(sf.Root, func(n *sitter.Node) bool {
			if n.Type() != "decorator" {
				return true
			}
			if ib := decoratorImport(syms, n); ib != nil && ib.Source == angularCore {
				ops = append(ops, Remove(n))
			}
			return false
		})
		return ops
	}}
}

// ngModules returns the exported classes of sf decorated with NgModule,
// together with the statement that exports each.
func ngModules(sf *compiler.SourceFile) []ngModule {
	syms := sf.Symbols()
	var out []ngModule
	for _, stmt := range compiler.NamedChildren(sf.Root) {
		if stmt.Type() != "export_statement" {
			continue
		}
		decl := stmt.ChildByFieldName("declaration")
		if decl == nil || (decl.Type() != "class_declaration" && decl.Type() != "abstract_class_declaration") {
			continue
		}
		name := decl.ChildByFieldName("name")
		if name == nil {
			continue
		}
		if hasNgModuleDecorator(sf, syms, stmt) || hasNgModuleDecorator(sf, syms, decl) {
			out = append(out, ngModule{Name: sf.Text(name), Statement: stmt})
		}
	}
	return out
}

type ngModule struct {
	Name      string
	Statement *sitter.Node
}

func hasNgModuleDecorator(sf *compiler.SourceFile, syms *compiler.Symbols, n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() != "decorator" {
			continue
		}
		if ib := decoratorImport(syms, c); ib != nil && ib.Source == angularCore && decoratorName(sf, c, ib) == "NgModule" {
			return true
		}
	}
	return false
}
