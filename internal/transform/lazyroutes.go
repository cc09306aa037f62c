package transform

import (
	"fmt"
	"path"
	"strings"

	"ngweave/internal/compiler"
	"ngweave/internal/routes"
)

// RewriteRoutes points every string loadChildren value at the generated
// factory of its module.
func RewriteRoutes() Pass {
	return Pass{Name: "rewrite-routes", Ops: func(sf *compiler.SourceFile) []Op {
		var ops []Op
		for _, d := range routes.Declarations(sf) {
			if d.Kind != routes.DeclString || d.Key.Variant == routes.VariantGenerated {
				continue
			}
			ops = append(ops, Replace(d.Value, compiler.Quote(d.Key.Generated().String())))
		}
		return ops
	}}
}

// ExportLazyModuleMap appends `export const LAZY_MODULE_MAP = {...}` to
// the main module, keyed by route strings as they appear in the output.
func ExportLazyModuleMap(mainModule string, table RouteTable, codegen bool) Pass {
	return Pass{Name: "export-lazy-module-map", Ops: func(sf *compiler.SourceFile) []Op {
		if sf.Path != mainModule {
			return nil
		}
		deps := table.ContextDependencies()
		var (
			imports []string
			entries []string
		)
		for i, d := range deps {
			if d.Key.Variant == routes.VariantGenerated {
				continue
			}
			key, spec, export := d.Key, relativeSpecifier(sf.Path, d.Path), d.Key.Export
			if codegen {
				key = key.Generated()
				spec = FactoryModule(spec)
				export = FactoryName(export)
			}
			ns := fmt.Sprintf("__lazy_%d__", i)
			imports = append(imports, fmt.Sprintf("import * as %s from %s;", ns, compiler.Quote(spec)))
			entries = append(entries, fmt.Sprintf("  %s: %s.%s", compiler.Quote(key.String()), ns, export))
		}
		text := "\n"
		if len(imports) > 0 {
			text += strings.Join(imports, "\n") + "\n"
		}
		if len(entries) == 0 {
			text += "export const LAZY_MODULE_MAP = {};\n"
		} else {
			text += "export const LAZY_MODULE_MAP = {\n" + strings.Join(entries, ",\n") + ",\n};\n"
		}
		return []Op{AddAfter(sf.Root, text)}
	}}
}

// relativeSpecifier returns an extensionless "./" specifier for target as
// imported from the file at from.
func relativeSpecifier(from, target string) string {
	target = strings.TrimSuffix(target, path.Ext(target))
	fromParts := strings.Split(strings.Trim(path.Dir(from), "/"), "/")
	toParts := strings.Split(strings.Trim(target, "/"), "/")
	if fromParts[0] == "" {
		fromParts = nil
	}
	i := 0
	for i < len(fromParts) && i < len(toParts)-1 && fromParts[i] == toParts[i] {
		i++
	}
	var b strings.Builder
	if i == len(fromParts) {
		b.WriteString("./")
	}
	for j := i; j < len(fromParts); j++ {
		b.WriteString("../")
	}
	b.WriteString(strings.Join(toParts[i:], "/"))
	return b.String()
}
