package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngweave/internal/diag"
	"ngweave/internal/vfs"
)

func newHost(files map[string]string) *vfs.Overlay {
	o := vfs.New(vfs.Options{BaseDir: "/project", Backing: vfs.EmptyBacking{}})
	for p, c := range files {
		o.WriteFile(p, c)
	}
	return o
}

func testOptions() Options {
	return Options{BaseDir: "/project", OutDir: "/project/out-tsc"}
}

func mustParse(t *testing.T, path, content string) *SourceFile {
	t.Helper()
	sf, err := Parse(context.Background(), path, content)
	require.NoError(t, err)
	return sf
}

func TestParse_IndexesModuleSurface(t *testing.T) {
	sf := mustParse(t, "/project/src/a.ts", `
import { Component, NgModule as Mod } from '@angular/core';
import Default, * as ns from './b';
import type { Shape } from './shape';
export { helper } from './helper';
export * from './barrel';
export class AppModule {}
export const one = 1, two = 2;
const lazy = () => import('./lazy/lazy.module');
`)

	require.Len(t, sf.Imports, 3)
	core := sf.Imports[0]
	assert.Equal(t, "@angular/core", core.Source)
	require.Len(t, core.Bindings, 2)
	assert.Equal(t, "Component", core.Bindings[0].Local)
	assert.Equal(t, "Mod", core.Bindings[1].Local)
	assert.Equal(t, "NgModule", core.Bindings[1].Imported)

	b := sf.Imports[1]
	require.Len(t, b.Bindings, 2)
	assert.Equal(t, "default", b.Bindings[0].Imported)
	assert.Equal(t, "*", b.Bindings[1].Imported)
	assert.Equal(t, "ns", b.Bindings[1].Local)

	assert.True(t, sf.Imports[2].TypeOnly)

	assert.True(t, sf.Exports.Has("AppModule"))
	assert.True(t, sf.Exports.Has("one"))
	assert.True(t, sf.Exports.Has("two"))
	assert.Equal(t, ReExport{Source: "./helper", Imported: "helper"}, sf.Exports.ReExports["helper"])
	assert.Equal(t, []string{"./barrel"}, sf.Exports.Stars)

	var specs []string
	for _, r := range sf.ModuleRefs {
		specs = append(specs, r.Specifier)
	}
	assert.ElementsMatch(t, []string{"@angular/core", "./b", "./shape", "./helper", "./barrel", "./lazy/lazy.module"}, specs)
}

func TestSymbols_ShadowingIsNotAUse(t *testing.T) {
	sf := mustParse(t, "/project/src/a.ts", `
import { x, y } from './dep';
function f(x: number) { return x + 1; }
const g = () => { const y = 2; return y; };
export const z = y;
`)
	syms := sf.Symbols()

	bx := syms.ImportBinding(sf.Imports[0].Bindings[0])
	by := syms.ImportBinding(sf.Imports[0].Bindings[1])
	require.NotNil(t, bx)
	require.NotNil(t, by)

	assert.Empty(t, syms.References(bx), "the parameter shadows the import")
	assert.Len(t, syms.References(by), 1, "only the module-level use refers to the import")
}

func TestSymbols_TypeAndDecoratorUses(t *testing.T) {
	sf := mustParse(t, "/project/src/a.ts", `
import { Component, OnInit } from '@angular/core';
import { Service } from './service';
@Component({ selector: 'app' })
export class App implements OnInit {
  constructor(private svc: Service) {}
  ngOnInit() {}
}
`)
	syms := sf.Symbols()
	for _, b := range []*ImportBinding{sf.Imports[0].Bindings[0], sf.Imports[0].Bindings[1], sf.Imports[1].Bindings[0]} {
		assert.Len(t, syms.References(syms.ImportBinding(b)), 1, b.Local)
	}
}

func TestResolveModule(t *testing.T) {
	files := map[string]bool{
		"/p/src/a.ts":           true,
		"/p/src/b.tsx":          true,
		"/p/src/lib/index.ts":   true,
		"/p/src/legacy.js":      true,
		"/p/src/types.d.ts":     true,
		"/p/src/compiled.ts":    true,
		"/p/src/styles.css":     true,
		"/p/src/nested/deep.ts": true,
	}
	isFile := func(p string) bool { return files[p] }

	cases := []struct {
		spec string
		want string
		ok   bool
	}{
		{"./a", "/p/src/a.ts", true},
		{"./b", "/p/src/b.tsx", true},
		{"./lib", "/p/src/lib/index.ts", true},
		{"./legacy", "/p/src/legacy.js", true},
		{"./types", "/p/src/types.d.ts", true},
		{"./compiled.js", "/p/src/compiled.ts", true},
		{"./styles.css", "/p/src/styles.css", true},
		{"../src/nested/deep", "/p/src/nested/deep.ts", true},
		{"/p/src/a", "/p/src/a.ts", true},
		{"./missing", "", false},
		{"@angular/core", "", false},
	}
	for _, c := range cases {
		got, ok := ResolveModule(isFile, "/p/src/main.ts", c.spec)
		assert.Equal(t, c.ok, ok, c.spec)
		assert.Equal(t, c.want, got, c.spec)
	}
}

func TestNewProgram_FollowsReferencesAndReuses(t *testing.T) {
	host := newHost(map[string]string{
		"/project/src/main.ts":             "import { AppModule } from './app/app.module';\nconsole.log(AppModule);\n",
		"/project/src/app/app.module.ts":   "export { Widget } from './widget';\nexport class AppModule {}\nexport const load = () => import('./lazy');\n",
		"/project/src/app/widget.ts":       "export class Widget {}\n",
		"/project/src/app/lazy.ts":         "export const lazy = true;\n",
		"/project/src/app/unreferenced.ts": "export const nope = 1;\n",
		"/project/src/app/shapes.d.ts":     "export interface Shape {}\n",
	})
	ctx := context.Background()

	p1, err := NewProgram(ctx, host, []string{"/project/src/main.ts"}, nil, testOptions())
	require.NoError(t, err)

	want := []string{
		"/project/src/main.ts",
		"/project/src/app/app.module.ts",
		"/project/src/app/widget.ts",
		"/project/src/app/lazy.ts",
	}
	if diff := cmp.Diff(want, p1.Paths()); diff != "" {
		t.Fatalf("program files (-want +got):\n%s", diff)
	}
	assert.Equal(t, Stats{Parsed: 4}, p1.Stats())

	host.WriteFile("/project/src/app/widget.ts", "export class Widget { size = 2; }\n")
	p2, err := NewProgram(ctx, host, []string{"/project/src/main.ts"}, p1, testOptions())
	require.NoError(t, err)
	assert.Equal(t, Stats{Parsed: 1, Reused: 3}, p2.Stats())
	assert.Same(t, p1.File("/project/src/main.ts"), p2.File("/project/src/main.ts"))
	assert.NotSame(t, p1.File("/project/src/app/widget.ts"), p2.File("/project/src/app/widget.ts"))
}

func TestNewProgram_MissingRoot(t *testing.T) {
	host := newHost(map[string]string{"/project/src/main.ts": "export {};\n"})
	p, err := NewProgram(context.Background(), host, []string{"/project/src/main.ts", "/project/src/gone.ts"}, nil, testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"/project/src/gone.ts"}, p.Missing())
	ds := p.GlobalDiagnostics()
	require.Len(t, ds, 1)
	assert.Equal(t, diag.CodeFileNotFound, ds[0].Code)
}

func TestNewProgram_Cancelled(t *testing.T) {
	host := newHost(map[string]string{"/project/src/main.ts": "export {};\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProgram(ctx, host, []string{"/project/src/main.ts"}, nil, testOptions())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveExport_FollowsBarrels(t *testing.T) {
	host := newHost(map[string]string{
		"/project/src/index.ts":                "export * from './features';\n",
		"/project/src/features/index.ts":       "export { LazyModule as FeatureModule } from './lazy.module';\nimport { Other } from './other';\nexport { Other };\n",
		"/project/src/features/lazy.module.ts": "export class LazyModule {}\n",
		"/project/src/features/other.ts":       "export class Other {}\n",
	})
	p, err := NewProgram(context.Background(), host, []string{"/project/src/index.ts"}, nil, testOptions())
	require.NoError(t, err)
	ctx := context.Background()

	got, ok := p.ResolveExport(ctx, "/project/src/index.ts", "FeatureModule")
	require.True(t, ok)
	assert.Equal(t, "/project/src/features/lazy.module.ts", got)

	got, ok = p.ResolveExport(ctx, "/project/src/index.ts", "Other")
	require.True(t, ok)
	assert.Equal(t, "/project/src/features/other.ts", got)

	_, ok = p.ResolveExport(ctx, "/project/src/index.ts", "Nope")
	assert.False(t, ok)
}

func TestDiagnostics(t *testing.T) {
	host := newHost(map[string]string{
		"/project/src/main.ts": strings.Join([]string{
			"import { Present, Absent } from './dep';",
			"import { Thing } from './nowhere';",
			"import Def from './dep';",
			"export const a = 1;",
			"export function a() {}",
			"",
		}, "\n"),
		"/project/src/dep.ts":    "export const Present = 1;\n",
		"/project/src/broken.ts": "export const x = ;\n",
	})
	p, err := NewProgram(context.Background(), host, []string{"/project/src/main.ts", "/project/src/broken.ts"}, nil, testOptions())
	require.NoError(t, err)

	sem := p.SemanticDiagnostics(context.Background(), p.File("/project/src/main.ts"))
	var codes []int
	for _, d := range sem {
		codes = append(codes, d.Code)
		assert.True(t, d.HasLocation)
	}
	assert.ElementsMatch(t, []int{diag.CodeModuleNotFound, diag.CodeExportNotFound, diag.CodeExportNotFound, diag.CodeDuplicateDecl}, codes)

	assert.Empty(t, SyntacticDiagnostics(p.File("/project/src/main.ts")))
	syn := SyntacticDiagnostics(p.File("/project/src/broken.ts"))
	require.NotEmpty(t, syn)
	assert.Equal(t, diag.CategoryError, syn[0].Category)
	assert.Equal(t, 1, syn[0].Line)
}

func TestEmit(t *testing.T) {
	host := newHost(map[string]string{
		"/project/src/a.ts": "export const a = 1;\n",
		"/project/src/b.ts": "export const b = ;\n",
	})
	p, err := NewProgram(context.Background(), host, []string{"/project/src/a.ts", "/project/src/b.ts"}, nil, testOptions())
	require.NoError(t, err)

	upper := TransformerFunc(func(sf *SourceFile) (string, error) {
		return strings.ToUpper(string(sf.Content)), nil
	})

	res, err := p.Emit("/project/src/a.ts", upper)
	require.NoError(t, err)
	assert.Equal(t, "/project/out-tsc/src/a.js", res.OutPath)
	out, err := host.ReadFile("/project/out-tsc/src/a.js")
	require.NoError(t, err)
	assert.Equal(t, "EXPORT CONST A = 1;\n", out)

	_, err = p.Emit("/project/src/b.ts", upper)
	se, ok := diag.AsSyntaxError(err)
	require.True(t, ok, "expected a syntax error, got %v", err)
	assert.Equal(t, "/project/src/b.ts", se.File)

	_, err = p.Emit("/project/src/c.ts", upper)
	require.Error(t, err)
	_, ok = diag.AsSyntaxError(err)
	assert.False(t, ok)
}

func TestStringHelpers(t *testing.T) {
	v, ok := Unquote(`'./lazy/lazy.module#LazyModule'`)
	require.True(t, ok)
	assert.Equal(t, "./lazy/lazy.module#LazyModule", v)

	v, ok = Unquote(`"it\'s"`)
	require.True(t, ok)
	assert.Equal(t, "it's", v)

	_, ok = Unquote("`${x}`")
	assert.False(t, ok)

	assert.Equal(t, `'it\'s'`, Quote("it's"))

	assert.True(t, ContainsWord("platformBrowser().bootstrapModuleFactory(AppModuleNgFactory)", "AppModuleNgFactory"))
	assert.False(t, ContainsWord("AppModuleNgFactory", "AppModule"))
	assert.True(t, ContainsWord("x = AppModule;", "AppModule"))
}
