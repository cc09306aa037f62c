package transform

import (
	"encoding/json"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

const angularCore = "@angular/core"

// ResourceKind says how a component references an external resource.
type ResourceKind int

const (
	ResourceTemplate ResourceKind = iota
	ResourceStyle
)

// Resource is one templateUrl or styleUrls entry of a component.
type Resource struct {
	Kind ResourceKind
	// Path is absolute; empty when the entry is not a string literal.
	Path   string
	Node   *sitter.Node
	Static bool
}

// resourceProperty is one templateUrl, styleUrl or styleUrls pair.
type resourceProperty struct {
	pair    *sitter.Node
	kind    ResourceKind
	entries []Resource
}

// FindResources returns the external resources referenced by components
// declared in sf.
func FindResources(sf *compiler.SourceFile) []Resource {
	var out []Resource
	for _, p := range resourceProperties(sf) {
		out = append(out, p.entries...)
	}
	return out
}

func resourceProperties(sf *compiler.SourceFile) []resourceProperty {
	syms := sf.Symbols()
	var out []resourceProperty
	compiler.Walk(sf.Root, func(n *sitter.Node) bool {
		if n.Type() != "decorator" {
			return true
		}
		call, ib := decoratorCall(syms, n)
		if call == nil || ib == nil || ib.Source != angularCore || decoratorName(sf, n, ib) != "Component" {
			return false
		}
		args := call.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 || args.NamedChild(0).Type() != "object" {
			return false
		}
		for _, pair := range compiler.NamedChildren(args.NamedChild(0)) {
			if pair.Type() != "pair" {
				continue
			}
			key, value := pair.ChildByFieldName("key"), pair.ChildByFieldName("value")
			if key == nil || value == nil {
				continue
			}
			switch sf.Text(key) {
			case "templateUrl":
				out = append(out, resourceProperty{pair: pair, kind: ResourceTemplate,
					entries: []Resource{resourceAt(sf, value, ResourceTemplate)}})
			case "styleUrl":
				out = append(out, resourceProperty{pair: pair, kind: ResourceStyle,
					entries: []Resource{resourceAt(sf, value, ResourceStyle)}})
			case "styleUrls":
				p := resourceProperty{pair: pair, kind: ResourceStyle}
				if value.Type() != "array" {
					p.entries = []Resource{{Kind: ResourceStyle, Node: value}}
				} else {
					for _, el := range compiler.NamedChildren(value) {
						if el.Type() == "comment" {
							continue
						}
						p.entries = append(p.entries, resourceAt(sf, el, ResourceStyle))
					}
				}
				out = append(out, p)
			}
		}
		return false
	})
	return out
}

func resourceAt(sf *compiler.SourceFile, n *sitter.Node, kind ResourceKind) Resource {
	r := Resource{Kind: kind, Node: n}
	if !compiler.IsStringLiteral(n) {
		return r
	}
	rel, ok := compiler.Unquote(sf.Text(n))
	if !ok {
		return r
	}
	r.Static = true
	r.Path = ResolveResource(sf.Path, rel)
	return r
}

// ResolveResource resolves a resource URL against the declaring module.
func ResolveResource(from, url string) string {
	if strings.HasPrefix(url, "/") {
		return path.Clean(url)
	}
	return path.Join(path.Dir(from), url)
}

// ReplaceResources inlines templateUrl and styleUrls content from src.
// Properties with a missing or non-literal entry are left alone.
func ReplaceResources(src ResourceSource) Pass {
	return Pass{Name: "replace-resources", Ops: func(sf *compiler.SourceFile) []Op {
		var ops []Op
		for _, p := range resourceProperties(sf) {
			contents := make([]string, 0, len(p.entries))
			for _, r := range p.entries {
				if !r.Static {
					break
				}
				c, ok := src.Get(r.Path)
				if !ok {
					break
				}
				contents = append(contents, jsString(c))
			}
			if len(contents) != len(p.entries) {
				continue
			}
			switch p.kind {
			case ResourceTemplate:
				ops = append(ops, Replace(p.pair, "template: "+contents[0]))
			case ResourceStyle:
				ops = append(ops, Replace(p.pair, "styles: ["+strings.Join(contents, ", ")+"]"))
			}
		}
		return ops
	}}
}

// jsString encodes s as a JavaScript string literal. Markup is kept
// readable; JSON escaping is otherwise valid JavaScript.
func jsString(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return `""`
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// decoratorCall returns the call expression of a decorator and the import
// its callee resolves to. Both are nil for decorators that are not calls.
func decoratorCall(syms *compiler.Symbols, dec *sitter.Node) (*sitter.Node, *compiler.ImportBinding) {
	expr := dec.NamedChild(0)
	if expr == nil || expr.Type() != "call_expression" {
		return nil, nil
	}
	return expr, calleeImport(syms, expr.ChildByFieldName("function"))
}

// decoratorImport returns the import a decorator's expression resolves to,
// whether or not it is called.
func decoratorImport(syms *compiler.Symbols, dec *sitter.Node) *compiler.ImportBinding {
	expr := dec.NamedChild(0)
	if expr == nil {
		return nil
	}
	if expr.Type() == "call_expression" {
		expr = expr.ChildByFieldName("function")
	}
	return calleeImport(syms, expr)
}

// calleeImport resolves `Name` or `ns.Name` to an import binding.
func calleeImport(syms *compiler.Symbols, fn *sitter.Node) *compiler.ImportBinding {
	if fn == nil {
		return nil
	}
	switch fn.Type() {
	case "identifier":
		return syms.ImportOf(fn)
	case "member_expression":
		if obj := fn.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
			if ib := syms.ImportOf(obj); ib != nil && ib.Imported == "*" {
				return ib
			}
		}
	}
	return nil
}

// decoratorName returns the exported name a decorator refers to.
func decoratorName(sf *compiler.SourceFile, dec *sitter.Node, ib *compiler.ImportBinding) string {
	if ib.Imported != "*" {
		return ib.Imported
	}
	expr := dec.NamedChild(0)
	if expr != nil && expr.Type() == "call_expression" {
		expr = expr.ChildByFieldName("function")
	}
	if expr != nil && expr.Type() == "member_expression" {
		if prop := expr.ChildByFieldName("property"); prop != nil {
			return sf.Text(prop)
		}
	}
	return ""
}
