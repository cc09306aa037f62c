package compiler

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// BindingKind classifies a declared name.
type BindingKind int

const (
	BindingImport BindingKind = iota
	BindingVar
	BindingFunction
	BindingClass
	BindingParam
	BindingType
	BindingEnum
	BindingNamespace
)

// Binding is one declared name in a scope.
type Binding struct {
	Name   string
	Kind   BindingKind
	Decl   *sitter.Node
	Scope  *Scope
	Import *ImportBinding
}

// Scope is a lexical scope. Declarations are hoisted to the scope that
// owns them, so lookup order does not depend on source order.
type Scope struct {
	Node     *sitter.Node
	Parent   *Scope
	Bindings map[string]*Binding
}

// Lookup resolves name against this scope and its ancestors.
func (s *Scope) Lookup(name string) *Binding {
	for sc := s; sc != nil; sc = sc.Parent {
		if b, ok := sc.Bindings[name]; ok {
			return b
		}
	}
	return nil
}

// Reference is an identifier use. Binding is nil for globals.
type Reference struct {
	Node    *sitter.Node
	Name    string
	Binding *Binding
}

// Symbols is the result of scope analysis over one file.
type Symbols struct {
	Root      *Scope
	Refs      []Reference
	byBinding map[*Binding][]Reference
	byNode    map[NodeKey]*Binding
	imports   map[*ImportBinding]*Binding
}

// References returns every use of b.
func (s *Symbols) References(b *Binding) []Reference {
	return s.byBinding[b]
}

// BindingOf returns the binding an identifier use resolves to, or nil.
func (s *Symbols) BindingOf(n *sitter.Node) *Binding {
	return s.byNode[KeyOf(n)]
}

// ImportOf returns the import an identifier use refers to, or nil.
func (s *Symbols) ImportOf(n *sitter.Node) *ImportBinding {
	if b := s.BindingOf(n); b != nil {
		return b.Import
	}
	return nil
}

// ImportBinding returns the scope binding created by an import, or nil
// when a later declaration shadows the name at module level.
func (s *Symbols) ImportBinding(ib *ImportBinding) *Binding {
	return s.imports[ib]
}

// Symbols runs scope analysis once and caches the result.
func (sf *SourceFile) Symbols() *Symbols {
	sf.symOnce.Do(func() {
		sf.symbols = analyzeScopes(sf)
	})
	return sf.symbols
}

type scopeBuilder struct {
	sf     *SourceFile
	scopes map[NodeKey]*Scope
	decls  map[NodeKey]bool
	syms   *Symbols
}

func analyzeScopes(sf *SourceFile) *Symbols {
	root := &Scope{Node: sf.Root, Bindings: make(map[string]*Binding)}
	b := &scopeBuilder{
		sf:     sf,
		scopes: map[NodeKey]*Scope{KeyOf(sf.Root): root},
		decls:  make(map[NodeKey]bool),
		syms: &Symbols{
			Root:      root,
			byBinding: make(map[*Binding][]Reference),
			byNode:    make(map[NodeKey]*Binding),
			imports:   make(map[*ImportBinding]*Binding),
		},
	}
	for _, c := range NamedChildren(sf.Root) {
		b.collect(c, root)
	}
	b.resolve(sf.Root, root)
	return b.syms
}

func (b *scopeBuilder) push(n *sitter.Node, parent *Scope) *Scope {
	sc := &Scope{Node: n, Parent: parent, Bindings: make(map[string]*Binding)}
	b.scopes[KeyOf(n)] = sc
	return sc
}

func (b *scopeBuilder) declare(sc *Scope, id *sitter.Node, kind BindingKind) *Binding {
	b.decls[KeyOf(id)] = true
	name := b.sf.Text(id)
	if existing, ok := sc.Bindings[name]; ok {
		return existing
	}
	bnd := &Binding{Name: name, Kind: kind, Decl: id, Scope: sc}
	sc.Bindings[name] = bnd
	return bnd
}

func (b *scopeBuilder) declarePattern(sc *Scope, n *sitter.Node, kind BindingKind) {
	forEachPatternIdent(n, func(id *sitter.Node) {
		b.declare(sc, id, kind)
	})
}

func (b *scopeBuilder) children(n *sitter.Node, sc *Scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		b.collect(n.NamedChild(i), sc)
	}
}

func (b *scopeBuilder) params(fn *sitter.Node, sc *Scope) {
	if p := fn.ChildByFieldName("parameter"); p != nil {
		b.declare(sc, p, BindingParam)
	}
	formal := fn.ChildByFieldName("parameters")
	if formal == nil {
		return
	}
	for _, p := range NamedChildren(formal) {
		switch p.Type() {
		case "required_parameter", "optional_parameter":
			b.declarePattern(sc, p.ChildByFieldName("pattern"), BindingParam)
		default:
			b.declarePattern(sc, p, BindingParam)
		}
	}
}

// collect records declarations and scopes. It never records references.
func (b *scopeBuilder) collect(n *sitter.Node, sc *Scope) {
	switch n.Type() {
	case "import_statement":
		for _, d := range b.sf.Imports {
			if KeyOf(d.Statement) != KeyOf(n) {
				continue
			}
			for _, ib := range d.Bindings {
				bnd := b.declare(sc, ib.Node, BindingImport)
				if bnd.Decl == ib.Node || KeyOf(bnd.Decl) == KeyOf(ib.Node) {
					bnd.Import = ib
					b.syms.imports[ib] = bnd
				}
			}
		}
		return

	case "function_declaration", "generator_function_declaration", "function_signature":
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(sc, name, BindingFunction)
		}
		inner := b.push(n, sc)
		b.params(n, inner)
		b.children(n, inner)
		return

	case "function", "function_expression", "generator_function":
		inner := b.push(n, sc)
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(inner, name, BindingFunction)
		}
		b.params(n, inner)
		b.children(n, inner)
		return

	case "arrow_function", "method_definition":
		inner := b.push(n, sc)
		b.params(n, inner)
		b.children(n, inner)
		return

	case "class_declaration", "abstract_class_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(sc, name, BindingClass)
		}
	case "class":
		if name := n.ChildByFieldName("name"); name != nil {
			b.decls[KeyOf(name)] = true
		}

	case "interface_declaration", "type_alias_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(sc, name, BindingType)
		}
	case "type_parameter":
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(sc, name, BindingType)
		}

	case "enum_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			b.declare(sc, name, BindingEnum)
		}
		return

	case "internal_module", "module":
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			b.declare(sc, name, BindingNamespace)
		}

	case "variable_declarator":
		b.declarePattern(sc, n.ChildByFieldName("name"), BindingVar)

	case "statement_block":
		if p := n.Parent(); p != nil && b.scopes[KeyOf(p)] == sc && sc.Node != b.sf.Root {
			// Function bodies share the function scope with the parameters.
			break
		}
		inner := b.push(n, sc)
		b.children(n, inner)
		return

	case "for_statement", "for_in_statement":
		inner := b.push(n, sc)
		if n.ChildByFieldName("kind") != nil {
			b.declarePattern(inner, n.ChildByFieldName("left"), BindingVar)
		}
		b.children(n, inner)
		return

	case "catch_clause":
		inner := b.push(n, sc)
		if p := n.ChildByFieldName("parameter"); p != nil {
			b.declarePattern(inner, p, BindingParam)
		}
		b.children(n, inner)
		return
	}
	b.children(n, sc)
}

// resolve walks the tree a second time and binds every identifier use.
func (b *scopeBuilder) resolve(n *sitter.Node, sc *Scope) {
	if s, ok := b.scopes[KeyOf(n)]; ok {
		sc = s
	}
	switch n.Type() {
	case "identifier", "type_identifier", "shorthand_property_identifier":
		if b.decls[KeyOf(n)] {
			return
		}
		name := b.sf.Text(n)
		bnd := sc.Lookup(name)
		ref := Reference{Node: n, Name: name, Binding: bnd}
		b.syms.Refs = append(b.syms.Refs, ref)
		if bnd != nil {
			b.syms.byBinding[bnd] = append(b.syms.byBinding[bnd], ref)
			b.syms.byNode[KeyOf(n)] = bnd
		}
		return
	case "import_statement", "property_identifier", "statement_identifier":
		return
	case "export_statement":
		if n.ChildByFieldName("source") != nil {
			return
		}
	case "export_specifier":
		if name := n.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			b.resolve(name, sc)
		}
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		b.resolve(n.Child(i), sc)
	}
}
