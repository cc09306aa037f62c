// Package transform rewrites TypeScript modules through declarative edits.
// Passes only produce operations against syntax nodes; the engine applies
// every operation of every pass in a single traversal.
package transform

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

// OpKind is the kind of a transform operation.
type OpKind int

const (
	OpRemove OpKind = iota
	OpReplace
	OpAdd
)

func (k OpKind) String() string {
	switch k {
	case OpRemove:
		return "remove"
	case OpReplace:
		return "replace"
	case OpAdd:
		return "add"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// Op is one edit against a node of a source file.
type Op struct {
	Kind        OpKind
	Target      compiler.NodeKey
	Replacement string
	Before      []string
	After       []string
	// Pass names the producing pass; set by the pipeline.
	Pass string
}

func (o Op) String() string {
	return fmt.Sprintf("%s %s (%s)", o.Kind, o.Target, o.Pass)
}

// Remove deletes n and its subtree.
func Remove(n *sitter.Node) Op {
	return Op{Kind: OpRemove, Target: compiler.KeyOf(n)}
}

// Replace substitutes text for n and its subtree.
func Replace(n *sitter.Node, text string) Op {
	return Op{Kind: OpReplace, Target: compiler.KeyOf(n), Replacement: text}
}

// AddBefore inserts text ahead of n.
func AddBefore(n *sitter.Node, text ...string) Op {
	return Op{Kind: OpAdd, Target: compiler.KeyOf(n), Before: text}
}

// AddAfter inserts text behind n.
func AddAfter(n *sitter.Node, text ...string) Op {
	return Op{Kind: OpAdd, Target: compiler.KeyOf(n), After: text}
}

// inserted returns every piece of text the op adds to the output.
func (o Op) inserted() []string {
	out := append([]string(nil), o.Before...)
	out = append(out, o.After...)
	if o.Kind == OpReplace {
		out = append(out, o.Replacement)
	}
	return out
}

// erases reports whether the op drops the target's original text.
func (o Op) erases() bool {
	return o.Kind == OpRemove || o.Kind == OpReplace
}
