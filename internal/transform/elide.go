package transform

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

const elideImportsName = "elide-imports"

// ElideImports returns the operations that drop imports made dead by ops.
// An import binding is dead when it is type-only, or when every reference
// to it lies inside a removed or replaced node and no inserted text names
// it. Imports that had no references to begin with are kept, since they
// may be needed for side effects the edits know nothing about.
func ElideImports(sf *compiler.SourceFile, ops []Op) []Op {
	var (
		erased   []compiler.NodeKey
		inserted []string
	)
	for _, op := range ops {
		if op.erases() {
			erased = append(erased, op.Target)
		}
		inserted = append(inserted, op.inserted()...)
	}
	insertedText := strings.Join(inserted, "\n")
	within := func(k compiler.NodeKey) bool {
		for _, e := range erased {
			if e.Contains(k) {
				return true
			}
		}
		return false
	}

	syms := sf.Symbols()
	var out []Op
	for _, d := range sf.Imports {
		if len(d.Bindings) == 0 || within(compiler.KeyOf(d.Statement)) {
			continue
		}
		var live []*compiler.ImportBinding
		for _, ib := range d.Bindings {
			if !importDead(syms, ib, within, insertedText) {
				live = append(live, ib)
			}
		}
		switch {
		case len(live) == len(d.Bindings):
		case len(live) == 0:
			out = append(out, Remove(d.Statement))
		default:
			out = append(out, Replace(d.Statement, rebuildImport(sf, d, live)))
		}
	}
	return out
}

func importDead(syms *compiler.Symbols, ib *compiler.ImportBinding, within func(compiler.NodeKey) bool, inserted string) bool {
	if ib.TypeOnly {
		return true
	}
	if compiler.ContainsWord(inserted, ib.Local) {
		return false
	}
	b := syms.ImportBinding(ib)
	if b == nil {
		return false
	}
	refs := syms.References(b)
	if len(refs) == 0 {
		return false
	}
	for _, r := range refs {
		if !within(compiler.KeyOf(r.Node)) {
			return false
		}
	}
	return true
}

// rebuildImport renders an import statement keeping only live bindings.
func rebuildImport(sf *compiler.SourceFile, d *compiler.ImportDecl, live []*compiler.ImportBinding) string {
	var (
		def   string
		ns    string
		named []string
	)
	for _, ib := range live {
		switch ib.Imported {
		case "default":
			if ib.Specifier.Type() == "identifier" {
				def = ib.Local
				continue
			}
			named = append(named, specifierText(sf, ib.Specifier))
		case "*":
			ns = "* as " + ib.Local
		default:
			named = append(named, specifierText(sf, ib.Specifier))
		}
	}
	var clause []string
	if def != "" {
		clause = append(clause, def)
	}
	if ns != "" {
		clause = append(clause, ns)
	}
	if len(named) > 0 {
		clause = append(clause, "{ "+strings.Join(named, ", ")+" }")
	}
	source := sf.Text(d.Statement.ChildByFieldName("source"))
	return "import " + strings.Join(clause, ", ") + " from " + source + ";"
}

// specifierText returns an import specifier without a leading type modifier.
func specifierText(sf *compiler.SourceFile, spec *sitter.Node) string {
	text := sf.Text(spec)
	if spec.ChildCount() > 0 && spec.Child(0).Type() == "type" {
		text = strings.TrimSpace(strings.TrimPrefix(text, "type"))
	}
	return text
}
