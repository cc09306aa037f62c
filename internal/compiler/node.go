package compiler

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// NodeKey identifies a syntax node within one source file. Transform
// operations and analyses refer to nodes by key, never by pointer.
type NodeKey struct {
	Start uint32
	End   uint32
	Kind  string
}

// KeyOf returns the key of n.
func KeyOf(n *sitter.Node) NodeKey {
	return NodeKey{Start: n.StartByte(), End: n.EndByte(), Kind: n.Type()}
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%s[%d:%d]", k.Kind, k.Start, k.End)
}

// Contains reports whether k's span covers o's span.
func (k NodeKey) Contains(o NodeKey) bool {
	return k.Start <= o.Start && o.End <= k.End
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// NamedChildren returns the named children of n.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// ChildOfType returns the first direct child (named or anonymous) of kind.
func ChildOfType(n *sitter.Node, kind string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == kind {
			return c
		}
	}
	return nil
}

// Ancestor returns the closest ancestor of n with one of the given kinds.
func Ancestor(n *sitter.Node, kinds ...string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		for _, k := range kinds {
			if p.Type() == k {
				return p
			}
		}
	}
	return nil
}

// Unquote returns the value of a string literal's source text. Template
// literals without substitutions are accepted too.
func Unquote(lit string) (string, bool) {
	if len(lit) < 2 {
		return "", false
	}
	q := lit[0]
	if (q != '"' && q != '\'' && q != '`') || lit[len(lit)-1] != q {
		return "", false
	}
	body := lit[1 : len(lit)-1]
	if q == '`' {
		if strings.Contains(body, "${") {
			return "", false
		}
		return body, true
	}
	if !strings.Contains(body, `\`) {
		return body, true
	}
	if q == '\'' {
		body = strings.ReplaceAll(body, `"`, `\"`)
	}
	body = strings.ReplaceAll(body, `\'`, `'`)
	s, err := strconv.Unquote(`"` + body + `"`)
	if err != nil {
		return body, true
	}
	return s, true
}

// Quote renders s as a single-quoted JavaScript string literal.
func Quote(s string) string {
	q := strconv.Quote(s)
	inner := q[1 : len(q)-1]
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `'`, `\'`)
	return "'" + inner + "'"
}

// IsStringLiteral reports whether n is a plain string or a template
// literal without substitutions.
func IsStringLiteral(n *sitter.Node) bool {
	switch n.Type() {
	case "string":
		return true
	case "template_string":
		return ChildOfType(n, "template_substitution") == nil
	}
	return false
}

// isIdentPart treats every non-ASCII byte as part of an identifier.
func isIdentPart(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// ContainsWord reports whether text contains name as a whole identifier token.
func ContainsWord(text, name string) bool {
	if name == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(text[i:], name)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(name)
		before := start == 0 || !isIdentPart(text[start-1])
		after := end == len(text) || !isIdentPart(text[end])
		if before && after {
			return true
		}
		i = start + 1
	}
}
