package transform

import (
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

// EraseTypes strips TypeScript-only syntax so the output is JavaScript.
// Enums become the usual IIFE, constructor parameter properties become
// assignments and parameter decorators are dropped.
func EraseTypes() Pass {
	return Pass{Name: "erase-types", Ops: eraseTypes}
}

func eraseTypes(sf *compiler.SourceFile) []Op {
	var ops []Op
	syms := sf.Symbols()
	compiler.Walk(sf.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "type_annotation", "type_predicate_annotation", "asserts_annotation",
			"type_arguments", "type_parameters", "implements_clause",
			"accessibility_modifier", "override_modifier":
			ops = append(ops, Remove(n))
			return false

		case "interface_declaration", "type_alias_declaration", "ambient_declaration",
			"function_signature", "abstract_method_signature", "index_signature", "method_signature":
			ops = append(ops, Remove(exportOrSelf(n)))
			return false

		case "enum_declaration":
			ops = append(ops, Replace(n, enumJS(sf, n)))
			return false

		case "import_statement":
			// Type-only imports are dropped by import elision.
			return false

		case "export_statement":
			if isTypeOnlyStatement(n) {
				ops = append(ops, Remove(n))
				return false
			}
			if clause := compiler.ChildOfType(n, "export_clause"); clause != nil {
				ops = append(ops, eraseTypeExports(sf, syms, n, clause)...)
				return false
			}

		case "public_field_definition":
			if compiler.ChildOfType(n, "declare") != nil || compiler.ChildOfType(n, "abstract") != nil {
				ops = append(ops, Remove(n))
				return false
			}

		case "method_definition":
			if name := n.ChildByFieldName("name"); name != nil && sf.Text(name) == "constructor" {
				ops = append(ops, parameterProperties(sf, n)...)
			}

		case "decorator":
			if p := n.Parent(); p != nil && isParameter(p) {
				ops = append(ops, Remove(n))
				return false
			}

		case "as_expression", "satisfies_expression":
			for i := 1; i < int(n.ChildCount()); i++ {
				ops = append(ops, Remove(n.Child(i)))
			}

		case "readonly":
			if p := n.Parent(); p != nil && (p.Type() == "public_field_definition" || isParameter(p)) {
				ops = append(ops, Remove(n))
			}
		case "abstract":
			if p := n.Parent(); p != nil && p.Type() == "abstract_class_declaration" {
				ops = append(ops, Remove(n))
			}
		case "?":
			if p := n.Parent(); p != nil {
				switch p.Type() {
				case "optional_parameter", "public_field_definition", "method_definition":
					ops = append(ops, Remove(n))
				}
			}
		case "!":
			if p := n.Parent(); p != nil {
				switch p.Type() {
				case "non_null_expression", "public_field_definition", "variable_declarator":
					ops = append(ops, Remove(n))
				}
			}
		}
		return true
	})
	return ops
}

func isParameter(n *sitter.Node) bool {
	return n.Type() == "required_parameter" || n.Type() == "optional_parameter"
}

func exportOrSelf(n *sitter.Node) *sitter.Node {
	if p := n.Parent(); p != nil && p.Type() == "export_statement" {
		return p
	}
	return n
}

func isTypeOnlyStatement(stmt *sitter.Node) bool {
	return stmt.ChildCount() > 1 && stmt.Child(1).Type() == "type"
}

// eraseTypeExports drops export specifiers that name types. Local names
// are classified through scope analysis; re-exports only by the explicit
// type modifier.
func eraseTypeExports(sf *compiler.SourceFile, syms *compiler.Symbols, stmt, clause *sitter.Node) []Op {
	hasSource := stmt.ChildByFieldName("source") != nil
	var keep []string
	dropped := 0
	for _, spec := range compiler.NamedChildren(clause) {
		if spec.Type() != "export_specifier" {
			continue
		}
		if spec.Child(0).Type() == "type" || (!hasSource && exportsType(syms, spec)) {
			dropped++
			continue
		}
		keep = append(keep, sf.Text(spec))
	}
	switch {
	case dropped == 0:
		return nil
	case len(keep) == 0:
		return []Op{Remove(stmt)}
	}
	return []Op{Replace(clause, "{ "+strings.Join(keep, ", ")+" }")}
}

func exportsType(syms *compiler.Symbols, spec *sitter.Node) bool {
	name := spec.ChildByFieldName("name")
	if name == nil {
		return false
	}
	b := syms.BindingOf(name)
	if b == nil {
		return false
	}
	switch b.Kind {
	case compiler.BindingType:
		return true
	case compiler.BindingImport:
		return b.Import != nil && b.Import.TypeOnly
	}
	return false
}

// parameterProperties turns `constructor(private x: X)` into an
// assignment at the start of the body, after super() when there is one.
func parameterProperties(sf *compiler.SourceFile, ctor *sitter.Node) []Op {
	params := ctor.ChildByFieldName("parameters")
	body := ctor.ChildByFieldName("body")
	if params == nil || body == nil || body.ChildCount() == 0 {
		return nil
	}
	var assigns []string
	for _, p := range compiler.NamedChildren(params) {
		if !isParameter(p) || !isParameterProperty(p) {
			continue
		}
		pattern := p.ChildByFieldName("pattern")
		if pattern == nil || pattern.Type() != "identifier" {
			continue
		}
		name := sf.Text(pattern)
		assigns = append(assigns, fmt.Sprintf(" this.%s = %s;", name, name))
	}
	if len(assigns) == 0 {
		return nil
	}
	anchor := body.Child(0) // "{"
	for _, stmt := range compiler.NamedChildren(body) {
		if isSuperCall(stmt) {
			anchor = stmt
			break
		}
	}
	return []Op{AddAfter(anchor, assigns...)}
}

func isParameterProperty(p *sitter.Node) bool {
	for i := 0; i < int(p.ChildCount()); i++ {
		switch p.Child(i).Type() {
		case "accessibility_modifier", "readonly", "override_modifier":
			return true
		}
	}
	return false
}

func isSuperCall(stmt *sitter.Node) bool {
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
		return false
	}
	call := stmt.NamedChild(0)
	if call.Type() != "call_expression" {
		return false
	}
	fn := call.ChildByFieldName("function")
	return fn != nil && fn.Type() == "super"
}

// enumJS renders an enum declaration as a var plus an initializing IIFE.
// Numeric members get reverse mappings; string members do not.
func enumJS(sf *compiler.SourceFile, n *sitter.Node) string {
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return ""
	}
	name := sf.Text(nameNode)

	var b strings.Builder
	fmt.Fprintf(&b, "var %s;\n(function (%s) {\n", name, name)
	next := "0"
	for _, m := range compiler.NamedChildren(body) {
		var member, value *sitter.Node
		switch m.Type() {
		case "enum_assignment":
			member = m.NamedChild(0)
			value = m.ChildByFieldName("value")
			if value == nil && m.NamedChildCount() > 1 {
				value = m.NamedChild(int(m.NamedChildCount()) - 1)
			}
		case "property_identifier", "string", "number":
			member = m
		default:
			continue
		}
		key := sf.Text(member)
		if compiler.IsStringLiteral(member) {
			key, _ = compiler.Unquote(key)
		}
		lit := strconv.Quote(key)

		val := next
		if value != nil {
			text := sf.Text(value)
			if compiler.IsStringLiteral(value) {
				fmt.Fprintf(&b, "    %s[%s] = %s;\n", name, lit, text)
				next = "undefined"
				continue
			}
			val = text
		}
		fmt.Fprintf(&b, "    %s[%s[%s] = %s] = %s;\n", name, name, lit, val, lit)
		if v, err := strconv.ParseInt(val, 0, 64); err == nil {
			next = strconv.FormatInt(v+1, 10)
		} else {
			next = fmt.Sprintf("%s[%s] + 1", name, lit)
		}
	}
	fmt.Fprintf(&b, "})(%s || (%s = {}));", name, name)
	return b.String()
}
