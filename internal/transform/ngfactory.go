package transform

import (
	"fmt"
	"path"
	"strings"

	"ngweave/internal/compiler"
)

const (
	factorySuffix      = ".ngfactory"
	factoryExport      = "NgFactory"
	factoryConstructor = "ɵngweave_NgModuleFactory"
)

// FactoryName returns the factory export for an NgModule class.
func FactoryName(module string) string {
	return module + factoryExport
}

// FactoryModule returns the factory module specifier or path for a module
// specifier or path, keeping a .ts extension in place.
func FactoryModule(spec string) string {
	if ext := path.Ext(spec); ext == ".ts" || ext == ".tsx" {
		return strings.TrimSuffix(spec, ext) + factorySuffix + ext
	}
	return spec + factorySuffix
}

// ExportNgFactory defines `XNgFactory` next to every exported NgModule
// class X. The factory module only re-exports it, so importing either
// file never forms an evaluation cycle.
func ExportNgFactory() Pass {
	return Pass{Name: "export-ngfactory", Ops: func(sf *compiler.SourceFile) []Op {
		var ops []Op
		for i, m := range ngModules(sf) {
			var text []string
			if i == 0 {
				text = append(text, fmt.Sprintf("\nimport { ɵNgModuleFactory as %s } from '%s';", factoryConstructor, angularCore))
			}
			text = append(text, fmt.Sprintf("\nexport const %s = new %s(%s);", FactoryName(m.Name), factoryConstructor, m.Name))
			ops = append(ops, AddAfter(m.Statement, text...))
		}
		return ops
	}}
}

// FactoryShim is a generated factory module.
type FactoryShim struct {
	Path    string
	Content string
	Exports []string
}

// FactoryShims returns the factory module for sf, or nil when sf exports
// no NgModule.
func FactoryShims(sf *compiler.SourceFile) *FactoryShim {
	mods := ngModules(sf)
	if len(mods) == 0 {
		return nil
	}
	base := strings.TrimSuffix(path.Base(sf.Path), path.Ext(sf.Path))
	shim := &FactoryShim{Path: FactoryModule(sf.Path)}
	for _, m := range mods {
		shim.Exports = append(shim.Exports, FactoryName(m.Name))
	}
	shim.Content = fmt.Sprintf("export { %s } from './%s';\n", strings.Join(shim.Exports, ", "), base)
	return shim
}
