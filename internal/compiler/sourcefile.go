package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// RefKind says how a module specifier was referenced.
type RefKind int

const (
	RefImport RefKind = iota
	RefExport
	RefDynamic
)

// ModuleRef is one module specifier occurrence.
type ModuleRef struct {
	Specifier string
	Kind      RefKind
	Node      *sitter.Node // the string literal
	TypeOnly  bool
}

// ImportBinding is one local name introduced by an import statement.
type ImportBinding struct {
	Local     string
	Imported  string // exported name, "default" or "*"
	Node      *sitter.Node
	Specifier *sitter.Node // import_specifier, namespace_import or the default identifier
	Statement *sitter.Node
	Source    string
	TypeOnly  bool
}

// ImportDecl is one import statement.
type ImportDecl struct {
	Statement *sitter.Node
	Source    string
	TypeOnly  bool
	Bindings  []*ImportBinding
}

// ReExport names the module and export a re-exported name comes from.
type ReExport struct {
	Source   string
	Imported string
}

// ExportInfo summarizes what a module exports.
type ExportInfo struct {
	Local     map[string]*sitter.Node // exported name -> declaring node
	ReExports map[string]ReExport
	Stars     []string
}

// Has reports whether name is exported directly or re-exported by name.
func (e *ExportInfo) Has(name string) bool {
	if _, ok := e.Local[name]; ok {
		return true
	}
	_, ok := e.ReExports[name]
	return ok
}

// SourceFile is a parsed module. Trees are immutable; a content change
// produces a new SourceFile.
type SourceFile struct {
	Path    string
	Content []byte
	Hash    string
	Lang    Language
	Tree    *sitter.Tree
	Root    *sitter.Node

	Imports    []*ImportDecl
	ModuleRefs []ModuleRef
	Exports    *ExportInfo

	symOnce sync.Once
	symbols *Symbols
}

// HashContent returns the content fingerprint used for program reuse.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func newSourceFile(filePath string, content []byte, lang Language, tree *sitter.Tree) *SourceFile {
	sf := &SourceFile{
		Path:    filePath,
		Content: content,
		Hash:    HashContent(content),
		Lang:    lang,
		Tree:    tree,
		Root:    tree.RootNode(),
		Exports: &ExportInfo{Local: make(map[string]*sitter.Node), ReExports: make(map[string]ReExport)},
	}
	sf.index()
	return sf
}

// Text returns the source text of n.
func (sf *SourceFile) Text(n *sitter.Node) string {
	return n.Content(sf.Content)
}

// Position returns the 1-based line and column of n's start.
func (sf *SourceFile) Position(n *sitter.Node) (int, int) {
	p := n.StartPoint()
	return int(p.Row) + 1, int(p.Column) + 1
}

// HasErrors reports whether the tree contains ERROR or MISSING nodes.
func (sf *SourceFile) HasErrors() bool {
	return sf.Root.HasError()
}

func (sf *SourceFile) index() {
	for _, stmt := range NamedChildren(sf.Root) {
		switch stmt.Type() {
		case "import_statement":
			sf.indexImport(stmt)
		case "export_statement":
			sf.indexExport(stmt)
		}
	}
	Walk(sf.Root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		fn := n.ChildByFieldName("function")
		if fn == nil || fn.Type() != "import" {
			return true
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return true
		}
		arg := args.NamedChild(0)
		if !IsStringLiteral(arg) {
			return true
		}
		if spec, ok := Unquote(sf.Text(arg)); ok {
			sf.ModuleRefs = append(sf.ModuleRefs, ModuleRef{Specifier: spec, Kind: RefDynamic, Node: arg})
		}
		return true
	})
}

// isTypeOnly reports whether stmt carries a "type" keyword right after
// import/export.
func isTypeOnly(stmt *sitter.Node) bool {
	if stmt.ChildCount() < 2 {
		return false
	}
	return stmt.Child(1).Type() == "type"
}

func (sf *SourceFile) indexImport(stmt *sitter.Node) {
	src := stmt.ChildByFieldName("source")
	if src == nil {
		// import x = require('...') and friends are left to the bundler.
		return
	}
	spec, ok := Unquote(sf.Text(src))
	if !ok {
		return
	}
	decl := &ImportDecl{Statement: stmt, Source: spec, TypeOnly: isTypeOnly(stmt)}
	sf.ModuleRefs = append(sf.ModuleRefs, ModuleRef{Specifier: spec, Kind: RefImport, Node: src, TypeOnly: decl.TypeOnly})

	clause := ChildOfType(stmt, "import_clause")
	if clause != nil {
		for _, c := range NamedChildren(clause) {
			switch c.Type() {
			case "identifier":
				decl.Bindings = append(decl.Bindings, &ImportBinding{
					Local: sf.Text(c), Imported: "default", Node: c, Specifier: c,
				})
			case "namespace_import":
				id := ChildOfType(c, "identifier")
				if id != nil {
					decl.Bindings = append(decl.Bindings, &ImportBinding{
						Local: sf.Text(id), Imported: "*", Node: id, Specifier: c,
					})
				}
			case "named_imports":
				for _, s := range NamedChildren(c) {
					if s.Type() != "import_specifier" {
						continue
					}
					name := s.ChildByFieldName("name")
					local := s.ChildByFieldName("alias")
					if local == nil {
						local = name
					}
					if name == nil || local == nil {
						continue
					}
					imported := sf.Text(name)
					if v, ok := Unquote(imported); ok {
						imported = v
					}
					decl.Bindings = append(decl.Bindings, &ImportBinding{
						Local: sf.Text(local), Imported: imported, Node: local, Specifier: s,
						TypeOnly: s.Child(0).Type() == "type",
					})
				}
			}
		}
	}
	for _, b := range decl.Bindings {
		b.Statement = stmt
		b.Source = spec
		b.TypeOnly = b.TypeOnly || decl.TypeOnly
	}
	sf.Imports = append(sf.Imports, decl)
}

func (sf *SourceFile) indexExport(stmt *sitter.Node) {
	typeOnly := isTypeOnly(stmt)
	var spec string
	if src := stmt.ChildByFieldName("source"); src != nil {
		s, ok := Unquote(sf.Text(src))
		if !ok {
			return
		}
		spec = s
		sf.ModuleRefs = append(sf.ModuleRefs, ModuleRef{Specifier: spec, Kind: RefExport, Node: src, TypeOnly: typeOnly})
	}

	if clause := ChildOfType(stmt, "export_clause"); clause != nil {
		for _, s := range NamedChildren(clause) {
			if s.Type() != "export_specifier" {
				continue
			}
			name := s.ChildByFieldName("name")
			if name == nil {
				continue
			}
			exported := name
			if alias := s.ChildByFieldName("alias"); alias != nil {
				exported = alias
			}
			local := sf.Text(name)
			if v, ok := Unquote(local); ok {
				local = v
			}
			out := sf.Text(exported)
			if v, ok := Unquote(out); ok {
				out = v
			}
			if spec != "" {
				sf.Exports.ReExports[out] = ReExport{Source: spec, Imported: local}
			} else {
				sf.Exports.Local[out] = s
			}
		}
		return
	}

	if spec != "" {
		// export * from / export * as ns from
		if ns := ChildOfType(stmt, "namespace_export"); ns != nil {
			if id := ns.NamedChild(0); id != nil {
				sf.Exports.ReExports[sf.Text(id)] = ReExport{Source: spec, Imported: "*"}
			}
			return
		}
		sf.Exports.Stars = append(sf.Exports.Stars, spec)
		return
	}

	if ChildOfType(stmt, "default") != nil {
		sf.Exports.Local["default"] = stmt
		return
	}
	if decl := stmt.ChildByFieldName("declaration"); decl != nil {
		for _, name := range DeclaredNames(sf, decl) {
			sf.Exports.Local[name] = decl
		}
	}
}

// DeclaredNames returns the top-level names a declaration statement binds.
func DeclaredNames(sf *SourceFile, decl *sitter.Node) []string {
	switch decl.Type() {
	case "lexical_declaration", "variable_declaration":
		var out []string
		for _, d := range NamedChildren(decl) {
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil {
				out = append(out, patternNames(sf, name)...)
			}
		}
		return out
	case "ambient_declaration":
		if decl.NamedChildCount() > 0 {
			return DeclaredNames(sf, decl.NamedChild(0))
		}
		return nil
	}
	if name := decl.ChildByFieldName("name"); name != nil {
		return []string{sf.Text(name)}
	}
	return nil
}

func patternNames(sf *SourceFile, n *sitter.Node) []string {
	var out []string
	forEachPatternIdent(n, func(id *sitter.Node) {
		out = append(out, sf.Text(id))
	})
	return out
}

// forEachPatternIdent visits the identifiers a binding pattern declares.
func forEachPatternIdent(n *sitter.Node, fn func(*sitter.Node)) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		fn(n)
	case "object_pattern", "array_pattern":
		for _, c := range NamedChildren(n) {
			forEachPatternIdent(c, fn)
		}
	case "pair_pattern":
		forEachPatternIdent(n.ChildByFieldName("value"), fn)
	case "assignment_pattern", "object_assignment_pattern":
		forEachPatternIdent(n.ChildByFieldName("left"), fn)
	case "rest_pattern":
		if n.NamedChildCount() > 0 {
			forEachPatternIdent(n.NamedChild(0), fn)
		}
	}
}

// FindImport returns the binding for a local name imported from a module
// whose specifier satisfies match.
func (sf *SourceFile) FindImport(local string, match func(source string) bool) *ImportBinding {
	for _, d := range sf.Imports {
		for _, b := range d.Bindings {
			if b.Local == local && match(d.Source) {
				return b
			}
		}
	}
	return nil
}

// ImportedFrom returns the first non-type binding that imports name from source.
func (sf *SourceFile) ImportedFrom(source, name string) *ImportBinding {
	for _, d := range sf.Imports {
		if d.Source != source || d.TypeOnly {
			continue
		}
		for _, b := range d.Bindings {
			if b.Imported == name && !b.TypeOnly {
				return b
			}
		}
	}
	return nil
}
