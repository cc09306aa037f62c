package transform

import (
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
	"ngweave/internal/logging"
)

// Applier applies operations to a source file and returns the new text.
type Applier interface {
	Apply(sf *compiler.SourceFile, ops []Op) (string, error)
}

// Structural applies operations in one depth-first walk of the syntax
// tree. At each node the precedence is remove > replace > add-around:
// Before and After text is always emitted, the node itself is dropped when
// removed, substituted when replaced and rendered otherwise. Subtrees that
// contain no targets are copied verbatim.
type Structural struct{}

var _ Applier = Structural{}

type edit struct {
	removed     bool
	replacement *string
	before      []string
	after       []string
}

// Apply implements Applier.
func (Structural) Apply(sf *compiler.SourceFile, ops []Op) (string, error) {
	if len(ops) == 0 {
		return string(sf.Content), nil
	}
	r := &renderer{
		src:   sf.Content,
		edits: make(map[compiler.NodeKey]*edit, len(ops)),
	}
	for _, op := range ops {
		if int(op.Target.End) > len(sf.Content) || op.Target.Start > op.Target.End {
			return "", fmt.Errorf("%s: op %s out of range", sf.Path, op)
		}
		e := r.edits[op.Target]
		if e == nil {
			e = &edit{}
			r.edits[op.Target] = e
			r.targets = append(r.targets, op.Target)
		}
		e.before = append(e.before, op.Before...)
		e.after = append(e.after, op.After...)
		switch op.Kind {
		case OpRemove:
			e.removed = true
		case OpReplace:
			if e.replacement != nil {
				logging.TransformDebug("%s: dropping replace %s, first replace wins", sf.Path, op)
				continue
			}
			text := op.Replacement
			e.replacement = &text
		}
	}
	sort.Slice(r.targets, func(i, j int) bool {
		if r.targets[i].Start != r.targets[j].Start {
			return r.targets[i].Start < r.targets[j].Start
		}
		return r.targets[i].End > r.targets[j].End
	})

	root := sf.Root
	r.out.Grow(len(sf.Content))
	r.out.Write(sf.Content[:root.StartByte()])
	r.node(root)
	r.out.Write(sf.Content[root.EndByte():])
	return r.out.String(), nil
}

type renderer struct {
	src     []byte
	edits   map[compiler.NodeKey]*edit
	targets []compiler.NodeKey // sorted by start, outermost first
	out     strings.Builder
}

func (r *renderer) node(n *sitter.Node) {
	key := compiler.KeyOf(n)
	e := r.edits[key]
	if e == nil {
		r.inner(n, key)
		return
	}
	for _, s := range e.before {
		r.out.WriteString(s)
	}
	switch {
	case e.removed:
	case e.replacement != nil:
		r.out.WriteString(*e.replacement)
	default:
		r.inner(n, key)
	}
	for _, s := range e.after {
		r.out.WriteString(s)
	}
}

// inner renders n's own text, descending only when a target lies inside it.
func (r *renderer) inner(n *sitter.Node, key compiler.NodeKey) {
	if !r.hasTargetWithin(key) {
		r.out.Write(r.src[key.Start:key.End])
		return
	}
	pos := key.Start
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.StartByte() > pos {
			r.out.Write(r.src[pos:c.StartByte()])
		}
		r.node(c)
		if c.EndByte() > pos {
			pos = c.EndByte()
		}
	}
	if key.End > pos {
		r.out.Write(r.src[pos:key.End])
	}
}

// hasTargetWithin reports whether any target other than key itself lies
// inside key's span.
func (r *renderer) hasTargetWithin(key compiler.NodeKey) bool {
	i := sort.Search(len(r.targets), func(i int) bool { return r.targets[i].Start >= key.Start })
	for ; i < len(r.targets) && r.targets[i].Start <= key.End; i++ {
		t := r.targets[i]
		if t != key && key.Contains(t) {
			return true
		}
	}
	return false
}
