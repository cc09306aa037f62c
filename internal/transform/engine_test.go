package transform

import (
	"context"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngweave/internal/compiler"
)

func parse(t *testing.T, path, src string) *compiler.SourceFile {
	t.Helper()
	sf, err := compiler.Parse(context.Background(), path, src)
	require.NoError(t, err)
	require.False(t, sf.HasErrors(), "fixture has syntax errors")
	return sf
}

// find returns the first node of kind whose text is text.
func find(t *testing.T, sf *compiler.SourceFile, kind, text string) *sitter.Node {
	t.Helper()
	var found *sitter.Node
	compiler.Walk(sf.Root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Type() == kind && sf.Text(n) == text {
			found = n
			return false
		}
		return true
	})
	require.NotNil(t, found, "no %s %q", kind, text)
	return found
}

func apply(t *testing.T, sf *compiler.SourceFile, ops ...Op) string {
	t.Helper()
	out, err := Structural{}.Apply(sf, ops)
	require.NoError(t, err)
	return out
}

const twoDecls = "const a = 1;\nconst b = 2;\n"

func TestApply_NoOpsIsVerbatim(t *testing.T) {
	src := "// header\nconst a: number = 1;\n\n\nfunction f() { return a; }\n"
	sf := parse(t, "/a.ts", src)
	assert.Equal(t, src, apply(t, sf))
}

func TestApply_RemoveBeatsReplaceAddStillRenders(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	a := find(t, sf, "lexical_declaration", "const a = 1;")

	out := apply(t, sf, Remove(a), AddBefore(a, "X"), Replace(a, "Y"))
	assert.Equal(t, "X\nconst b = 2;\n", out)
}

func TestApply_ReplaceThenAfter(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	a := find(t, sf, "lexical_declaration", "const a = 1;")

	// Op order does not matter; the replacement always precedes the after list.
	assert.Equal(t, "YZ\nconst b = 2;\n", apply(t, sf, AddAfter(a, "Z"), Replace(a, "Y")))
	assert.Equal(t, "YZ\nconst b = 2;\n", apply(t, sf, Replace(a, "Y"), AddAfter(a, "Z")))
}

func TestApply_FirstReplaceWins(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	a := find(t, sf, "lexical_declaration", "const a = 1;")

	assert.Equal(t, "first\nconst b = 2;\n", apply(t, sf, Replace(a, "first"), Replace(a, "second")))
}

func TestApply_DescendantsOfRemovedNodeAreUnreachable(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	a := find(t, sf, "lexical_declaration", "const a = 1;")
	one := find(t, sf, "number", "1")

	out := apply(t, sf, Replace(one, "42"), AddAfter(one, "!"), Remove(a))
	assert.Equal(t, "\nconst b = 2;\n", out)

	out = apply(t, sf, Replace(a, "let a;"), Remove(one))
	assert.Equal(t, "let a;\nconst b = 2;\n", out)
}

func TestApply_AddOnlyNodeStillRendersChildren(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	a := find(t, sf, "lexical_declaration", "const a = 1;")
	one := find(t, sf, "number", "1")

	out := apply(t, sf, AddBefore(a, "/* a */ "), Replace(one, "42"), AddAfter(a, " // done"))
	assert.Equal(t, "/* a */ const a = 42; // done\nconst b = 2;\n", out)
}

func TestApply_SiblingEditsKeepGaps(t *testing.T) {
	sf := parse(t, "/a.ts", "f(a,   b,\n  c);\n")
	a := find(t, sf, "identifier", "a")
	c := find(t, sf, "identifier", "c")

	assert.Equal(t, "f(x,   b,\n  z);\n", apply(t, sf, Replace(a, "x"), Replace(c, "z")))
}

func TestApply_OutOfRange(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	_, err := Structural{}.Apply(sf, []Op{{Kind: OpRemove, Target: compiler.NodeKey{Start: 5, End: 500}}})
	assert.Error(t, err)
}

func TestPipeline_TagsOpsWithPass(t *testing.T) {
	sf := parse(t, "/a.ts", twoDecls)
	p := NewPipeline(
		Pass{Name: "drop-a", Ops: func(sf *compiler.SourceFile) []Op {
			return []Op{Remove(sf.Root.NamedChild(0))}
		}},
		Pass{Name: "mark-b", Ops: func(sf *compiler.SourceFile) []Op {
			return []Op{AddBefore(sf.Root.NamedChild(1), "/* b */ ")}
		}},
	)
	ops := p.Ops(sf)
	require.Len(t, ops, 2)
	assert.Equal(t, "drop-a", ops[0].Pass)
	assert.Equal(t, "mark-b", ops[1].Pass)

	out, err := p.Transform(sf)
	require.NoError(t, err)
	assert.Equal(t, "\n/* b */ const b = 2;\n", out)
	assert.Equal(t, []string{"drop-a", "mark-b", "elide-imports"}, p.Passes())
}
