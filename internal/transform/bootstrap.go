package transform

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"ngweave/internal/compiler"
)

const (
	platformDynamicModule = "@angular/platform-browser-dynamic"
	platformBrowserModule = "@angular/platform-browser"
	localeDataPrefix      = "@angular/common/locales/global/"
)

// ReplaceBootstrap rewrites
//
//	platformBrowserDynamic().bootstrapModule(AppModule)
//
// in the main module into
//
//	platformBrowser().bootstrapModuleFactory(AppModuleNgFactory)
//
// and imports the factory, the static platform and, when locale is set,
// its locale data. The dynamic platform import dies and is elided.
func ReplaceBootstrap(mainModule, locale string) Pass {
	return Pass{Name: "replace-bootstrap", Ops: func(sf *compiler.SourceFile) []Op {
		if sf.Path != mainModule {
			return nil
		}
		syms := sf.Symbols()
		var ops []Op
		compiler.Walk(sf.Root, func(n *sitter.Node) bool {
			if n.Type() != "call_expression" {
				return true
			}
			op, ok := bootstrapCall(sf, syms, n, locale)
			if !ok {
				return true
			}
			ops = append(ops, op...)
			return false
		})
		return ops
	}}
}

func bootstrapCall(sf *compiler.SourceFile, syms *compiler.Symbols, call *sitter.Node, locale string) ([]Op, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || fn.Type() != "member_expression" {
		return nil, false
	}
	prop := fn.ChildByFieldName("property")
	platform := fn.ChildByFieldName("object")
	if prop == nil || platform == nil || sf.Text(prop) != "bootstrapModule" || platform.Type() != "call_expression" {
		return nil, false
	}
	pib := calleeImport(syms, platform.ChildByFieldName("function"))
	if pib == nil || pib.Source != platformDynamicModule {
		return nil, false
	}
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil, false
	}
	module := args.NamedChild(0)
	if module.Type() != "identifier" {
		return nil, false
	}
	mib := syms.ImportOf(module)
	if mib == nil || !compiler.IsRelative(mib.Source) || mib.Imported == "*" {
		return nil, false
	}

	factory := FactoryName(mib.Imported)
	rest := make([]string, 0, args.NamedChildCount())
	rest = append(rest, factory)
	for _, a := range compiler.NamedChildren(args)[1:] {
		if a.Type() != "comment" {
			rest = append(rest, sf.Text(a))
		}
	}
	replacement := fmt.Sprintf("platformBrowser().bootstrapModuleFactory(%s)", strings.Join(rest, ", "))

	imports := []string{
		fmt.Sprintf("\nimport { platformBrowser } from '%s';", platformBrowserModule),
		fmt.Sprintf("\nimport { %s } from %s;", factory, compiler.Quote(FactoryModule(mib.Source))),
	}
	if locale != "" {
		imports = append(imports, fmt.Sprintf("\nimport %s;", compiler.Quote(localeDataPrefix+locale)))
	}
	return []Op{
		Replace(call, replacement),
		AddAfter(mib.Statement, imports...),
	}, true
}
