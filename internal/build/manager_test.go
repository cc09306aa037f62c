package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/routes"
	"ngweave/internal/transform"
	"ngweave/internal/vfs"
)

func memFS(base string, files map[string]string) *vfs.Overlay {
	fs := vfs.New(vfs.Options{BaseDir: base, Backing: vfs.EmptyBacking{}})
	for p, c := range files {
		fs.WriteFile(p, c)
	}
	fs.ResetChangeTracking()
	return fs
}

func newManager(t *testing.T, fs *vfs.Overlay, opts Options) *Manager {
	t.Helper()
	if opts.Compiler.OutDir == "" {
		opts.Compiler.OutDir = "/out"
	}
	m, err := NewManager(context.Background(), fs, opts)
	require.NoError(t, err)
	return m
}

func build(t *testing.T, m *Manager) *Result {
	t.Helper()
	res, err := m.Build(context.Background())
	require.NoError(t, err)
	return res
}

func commit(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Commit(context.Background()))
}

// failingTransformer delegates to the standard pipeline until fail is set.
func failingTransformer(fail *error) TransformerFactory {
	return func(opts transform.Options) compiler.Transformer {
		p := transform.Compose(opts)
		return compiler.TransformerFunc(func(sf *compiler.SourceFile) (string, error) {
			if *fail != nil {
				return "", *fail
			}
			return p.Transform(sf)
		})
	}
}

func TestBuild_IncrementalRebuildEmitsChangedModule(t *testing.T) {
	fs := memFS("/", map[string]string{"/a.ts": "export const x = 1;\n"})
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}})

	res := build(t, m)
	require.False(t, res.Failed(), "%v", res.Buckets.Errors)
	assert.False(t, res.Incremental)
	assert.Equal(t, StateWarm, res.State)
	assert.Equal(t, "export const x = 1;\n", res.Emitted["/a.ts"])
	commit(t, m)

	fs.WriteFile("/a.ts", "export const x = 2;\n")
	assert.Equal(t, []string{"/a.ts"}, fs.ChangedPaths())

	res = build(t, m)
	require.False(t, res.Failed())
	assert.True(t, res.Incremental)
	assert.Equal(t, "export const x = 2;\n", res.Emitted["/a.ts"])

	out, ok := m.Output("/a.ts")
	require.True(t, ok)
	assert.Equal(t, "export const x = 2;\n", out)
	assert.Equal(t, "/out/a.js", m.OutputFor("/a.ts"))
}

func TestBuild_SyntaxErrorKeepsProgram(t *testing.T) {
	fs := memFS("/", map[string]string{"/a.ts": "export const x = 1;\n"})
	var fail error
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}, Transformer: failingTransformer(&fail)})
	build(t, m)
	commit(t, m)

	fs.WriteFile("/a.ts", "export const x = 2;\n")
	fail = &diag.SyntaxError{File: "/a.ts", Line: 1, Column: 18, Msg: "';' expected."}
	res := build(t, m)

	require.Len(t, res.Buckets.Errors, 1)
	assert.Equal(t, diag.CodeSyntax, res.Buckets.Errors[0].Code)
	assert.Empty(t, res.Buckets.Errors[0].Stack)
	assert.Equal(t, StateFailed, res.State)
	assert.NotNil(t, m.Program())

	// Commit is a no-op after a failure; the change set survives.
	commit(t, m)
	assert.Equal(t, []string{"/a.ts"}, fs.ChangedPaths())

	fail = nil
	res = build(t, m)
	require.False(t, res.Failed())
	assert.True(t, res.Incremental)
	assert.Equal(t, "export const x = 2;\n", res.Emitted["/a.ts"])
}

func TestBuild_OneSyntaxErrorPerFile(t *testing.T) {
	broken := "export const a = ;\nexport const b = ;\nexport const c = ;\n"
	fs := memFS("/", map[string]string{"/a.ts": broken})
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}})

	res := build(t, m)
	require.NotNil(t, m.Program())
	require.Greater(t, len(compiler.SyntacticDiagnostics(m.Program().File("/a.ts"))), 1)

	require.Len(t, res.Buckets.Errors, 1)
	d := res.Buckets.Errors[0]
	assert.Equal(t, "/a.ts", d.File)
	assert.Equal(t, 1, d.Line)
	assert.Equal(t, StateFailed, res.State)
	assert.NotContains(t, res.Emitted, "/a.ts")
}

func TestBuild_UnknownErrorDiscardsProgram(t *testing.T) {
	fs := memFS("/", map[string]string{"/a.ts": "export const x = 1;\n"})
	var fail error
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}, Transformer: failingTransformer(&fail)})
	build(t, m)
	commit(t, m)

	fs.WriteFile("/a.ts", "export const x = 2;\n")
	fail = errors.New("printer exploded")
	res := build(t, m)

	require.Len(t, res.Buckets.Errors, 1)
	d := res.Buckets.Errors[0]
	assert.Equal(t, diag.CodeUnknownEmitError, d.Code)
	assert.Contains(t, d.Message, "printer exploded")
	assert.NotEmpty(t, d.Stack)
	assert.Equal(t, StateCold, res.State)
	assert.Nil(t, m.Program())

	fail = nil
	res = build(t, m)
	require.False(t, res.Failed())
	assert.False(t, res.Incremental)
	assert.Equal(t, 2, m.Stats().ColdBuilds)
}

func TestBuild_PanicIsUnknownError(t *testing.T) {
	fs := memFS("/", map[string]string{"/a.ts": "export const x = 1;\n"})
	m := newManager(t, fs, Options{
		Roots: []string{"/a.ts"},
		Transformer: func(transform.Options) compiler.Transformer {
			return compiler.TransformerFunc(func(*compiler.SourceFile) (string, error) {
				panic("boom")
			})
		},
	})

	res := build(t, m)
	require.Len(t, res.Buckets.Errors, 1)
	assert.Contains(t, res.Buckets.Errors[0].Message, "panic: boom")
	assert.NotEmpty(t, res.Buckets.Errors[0].Stack)
	assert.Nil(t, m.Program())
}

func TestBuild_EmitsOnlyChangedModules(t *testing.T) {
	files := make(map[string]string)
	var imports []string
	for i := 0; i < 100; i++ {
		files[fmt.Sprintf("/src/m%d.ts", i)] = fmt.Sprintf("export const v%d = %d;\n", i, i)
		imports = append(imports, fmt.Sprintf("import { v%d } from './m%d';", i, i))
	}
	files["/src/main.ts"] = strings.Join(imports, "\n") + "\n"
	fs := memFS("/", files)
	m := newManager(t, fs, Options{Roots: []string{"/src/main.ts"}})

	res := build(t, m)
	require.False(t, res.Failed(), "%v", res.Buckets.Errors)
	assert.Len(t, res.Emitted, 101)
	commit(t, m)

	fs.WriteFile("/src/m3.ts", "export const v3 = 33;\n")
	fs.WriteFile("/src/m42.ts", "export const v42 = 4242;\n")
	res = build(t, m)
	require.False(t, res.Failed())
	assert.Len(t, res.Emitted, 2)
	assert.Contains(t, res.Emitted, "/src/m3.ts")
	assert.Contains(t, res.Emitted, "/src/m42.ts")

	st := m.Stats()
	assert.Equal(t, 2, st.LastEmitted)
	assert.Equal(t, 103, st.Emitted)
	assert.Equal(t, 2, st.Builds)
	assert.Equal(t, 1, st.ColdBuilds)
}

func TestBuild_FilterSkipsExcludedChanges(t *testing.T) {
	fs := memFS("/", map[string]string{
		"/src/main.ts":   "import { a } from './a';\nimport { b } from './b.spec';\n",
		"/src/a.ts":      "export const a = 1;\n",
		"/src/b.spec.ts": "export const b = 1;\n",
	})
	m := newManager(t, fs, Options{
		Roots:  []string{"/src/main.ts"},
		Filter: func(p string) bool { return !strings.HasSuffix(p, ".spec.ts") },
	})
	build(t, m)
	commit(t, m)

	fs.WriteFile("/src/a.ts", "export const a = 2;\n")
	fs.WriteFile("/src/b.spec.ts", "export const b = 2;\n")
	res := build(t, m)
	assert.Equal(t, []string{"/src/a.ts"}, keys(res.Emitted))
}

const (
	mainTS = `import { platformBrowserDynamic } from '@angular/platform-browser-dynamic';
import { AppModule } from './app/app.module';

platformBrowserDynamic().bootstrapModule(AppModule);
`
	appModuleTS = `import { NgModule } from '@angular/core';
import { RouterModule } from '@angular/router';

const routes = [{ path: 'lazy', loadChildren: './lazy/lazy.module#LazyModule' }];

@NgModule({
  imports: [RouterModule.forRoot(routes)],
})
export class AppModule {}
`
	lazyModuleTS = `import { NgModule } from '@angular/core';

@NgModule({})
export class LazyModule {}
`
)

func angularProject() *vfs.Overlay {
	return memFS("/project", map[string]string{
		"/project/src/main.ts":                   mainTS,
		"/project/src/app/app.module.ts":         appModuleTS,
		"/project/src/app/lazy/lazy.module.ts":   lazyModuleTS,
		"/project/src/app/other/other.module.ts": strings.ReplaceAll(lazyModuleTS, "Lazy", "Other"),
	})
}

func TestBuild_CodegenDiscoversLazyModules(t *testing.T) {
	fs := angularProject()
	m := newManager(t, fs, Options{
		Roots:         []string{"src/main.ts"},
		MainModule:    "src/main.ts",
		LazyModuleMap: true,
		Compiler:      compiler.Options{OutDir: "/project/dist", Codegen: true},
	})

	res := build(t, m)
	require.False(t, res.Failed(), "%v", res.Buckets.Errors)

	key := routes.Key{Module: "./lazy/lazy.module", Export: "LazyModule"}
	assert.Equal(t, routes.ResolvedEntry("/project/src/app/lazy/lazy.module.ts"), res.Routes[key])
	assert.Equal(t, routes.ResolvedEntry("/project/src/app/lazy/lazy.module.ngfactory.ts"), res.Routes[key.Generated()])

	// The lazy module is not imported anywhere, discovery pulls it in.
	require.Contains(t, res.Emitted, "/project/src/app/lazy/lazy.module.ts")
	assert.Contains(t, res.Emitted["/project/src/app/lazy/lazy.module.ts"], "export const LazyModuleNgFactory")
	assert.NotContains(t, res.Emitted, "/project/src/app/other/other.module.ts")

	assert.Contains(t, res.Emitted["/project/src/main.ts"], "bootstrapModuleFactory(AppModuleNgFactory)")
	assert.Contains(t, res.Emitted["/project/src/main.ts"], "LAZY_MODULE_MAP")
	assert.Contains(t, res.Emitted["/project/src/app/app.module.ts"], "'./lazy/lazy.module.ngfactory#LazyModuleNgFactory'")
	assert.NotContains(t, res.Emitted["/project/src/app/app.module.ts"], "@NgModule")

	shim, err := fs.ReadFile("/project/src/app/app.module.ngfactory.ts")
	require.NoError(t, err)
	assert.Equal(t, "export { AppModuleNgFactory } from './app.module';\n", shim)
	commit(t, m)

	// Adding a route in a later build grows the program and re-emits main.
	fs.WriteFile("/project/src/app/app.module.ts", strings.Replace(appModuleTS,
		"];", ", { path: 'other', loadChildren: './other/other.module#OtherModule' }];", 1))
	res = build(t, m)
	require.False(t, res.Failed(), "%v", res.Buckets.Errors)
	assert.ElementsMatch(t, []string{
		"/project/src/main.ts",
		"/project/src/app/app.module.ts",
		"/project/src/app/other/other.module.ts",
	}, keys(res.Emitted))
	assert.Contains(t, res.Emitted["/project/src/main.ts"], "OtherModuleNgFactory")
	assert.True(t, fs.IsFile("/project/src/app/other/other.module.ngfactory.ts"))
}

func TestBuild_DeletedLazyModuleIsKept(t *testing.T) {
	fs := angularProject()
	m := newManager(t, fs, Options{Roots: []string{"src/main.ts"}})
	build(t, m)
	commit(t, m)

	fs.Invalidate("/project/src/app/lazy/lazy.module.ts")
	res := build(t, m)

	key := routes.Key{Module: "./lazy/lazy.module", Export: "LazyModule"}
	assert.Equal(t, routes.ResolvedEntry("/project/src/app/lazy/lazy.module.ts"), res.Routes[key])
	assert.False(t, m.Program().Contains("/project/src/app/lazy/lazy.module.ts"))
}

const componentTS = `import { Component } from '@angular/core';

@Component({
  selector: 'app-root',
  templateUrl: './app.component.html',
  styleUrls: ['./app.component.css'],
})
export class AppComponent {}
`

func TestBuild_InlinesResourcesAndTracksThem(t *testing.T) {
	fs := memFS("/", map[string]string{
		"/app/app.component.ts":   componentTS,
		"/app/app.component.html": "<h1>hi</h1>",
		"/app/app.component.css":  "h1 { color: red; }",
		"/app/other.ts":           "export const other = 1;\n",
	})
	m := newManager(t, fs, Options{Roots: []string{"/app/app.component.ts", "/app/other.ts"}})

	res := build(t, m)
	require.False(t, res.Failed(), "%v", res.Buckets.Errors)
	out := res.Emitted["/app/app.component.ts"]
	assert.Contains(t, out, `template: "<h1>hi</h1>"`)
	assert.Contains(t, out, `styles: ["h1 { color: red; }"]`)
	assert.Equal(t, 2, m.Stats().Resources)
	commit(t, m)

	fs.WriteFile("/app/app.component.html", "<h1>bye</h1>")
	res = build(t, m)
	require.False(t, res.Failed())
	assert.Equal(t, []string{"/app/app.component.ts"}, keys(res.Emitted))
	assert.Contains(t, res.Emitted["/app/app.component.ts"], `template: "<h1>bye</h1>"`)
}

func TestBuild_MissingResource(t *testing.T) {
	fs := memFS("/", map[string]string{
		"/app/app.component.ts":  componentTS,
		"/app/app.component.css": "",
	})
	m := newManager(t, fs, Options{Roots: []string{"/app/app.component.ts"}})

	res := build(t, m)
	assert.Empty(t, res.Buckets.Errors)
	require.Len(t, res.Buckets.Warnings, 1)
	d := res.Buckets.Warnings[0]
	assert.Equal(t, diag.CodeResourceNotFound, d.Code)
	assert.Equal(t, diag.CategoryWarning, d.Category)
	assert.Equal(t, "/app/app.component.ts", d.File)
	assert.Equal(t, 5, d.Line)
	// A missing resource does not fail the build.
	assert.Equal(t, StateWarm, res.State)
	// The property is left for the runtime to fetch.
	assert.Contains(t, res.Emitted["/app/app.component.ts"], "templateUrl: './app.component.html'")
}

func TestBuild_WorkerModeSkipsFullDiagnosticsAfterFirstBuild(t *testing.T) {
	fs := memFS("/", map[string]string{
		"/a.ts": "import { missing } from './b';\nexport const a = missing;\n",
		"/b.ts": "export const b = 1;\n",
	})
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}, TypeCheckWorker: true})

	res := build(t, m)
	assert.Equal(t, ModeFull, res.Mode)
	require.Len(t, res.Buckets.Errors, 1)
	assert.Equal(t, diag.CodeExportNotFound, res.Buckets.Errors[0].Code)

	res = build(t, m)
	assert.Equal(t, ModeFast, res.Mode)
	assert.Empty(t, res.Buckets.Errors)
}

func TestBuild_Cancelled(t *testing.T) {
	fs := memFS("/", map[string]string{"/a.ts": "export const x = 1;\n"})
	m := newManager(t, fs, Options{Roots: []string{"/a.ts"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_StorePersistsRoutes(t *testing.T) {
	store, err := routes.OpenStore(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	defer store.Close()

	m := newManager(t, angularProject(), Options{Roots: []string{"src/main.ts"}, Store: store})
	build(t, m)
	commit(t, m)

	again := newManager(t, angularProject(), Options{Roots: []string{"src/main.ts"}, Store: store})
	e, ok := again.Routes().Lookup(routes.Key{Module: "./lazy/lazy.module", Export: "LazyModule"})
	require.True(t, ok)
	assert.Equal(t, "/project/src/app/lazy/lazy.module.ts", e.Path)
}

func TestGatherDiagnostics_Modes(t *testing.T) {
	fs := memFS("/", map[string]string{
		"/a.ts": "import { b } from './missing';\nconst r = [{ loadChildren: pick() }];\nexport const a = b;\n",
	})
	prog, err := compiler.NewProgram(context.Background(), fs, []string{"/a.ts"}, nil, compiler.Options{BaseDir: "/"})
	require.NoError(t, err)

	fast := GatherDiagnostics(context.Background(), prog, ModeFast)
	require.Len(t, fast, 1)
	assert.Equal(t, diag.CodeNonStaticRoute, fast[0].Code)

	full := GatherDiagnostics(context.Background(), prog, ModeFull)
	assert.Equal(t, 1, diag.Count(full, diag.CategoryError))
	assert.Equal(t, diag.CodeModuleNotFound, full[1].Code)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, GatherDiagnostics(ctx, prog, ModeFull))
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
