package build

import (
	"context"

	"ngweave/internal/compiler"
	"ngweave/internal/diag"
	"ngweave/internal/routes"
	"ngweave/internal/transform"
)

// GatherDiagnostics collects diagnostics for prog. Categories run in order
// (syntactic, semantic, structural) and ctx is checked between them and
// between files; a cancelled pass returns what it has so far. A file with
// broken syntax reports only its first syntax error, the same one its emit
// fails with.
func GatherDiagnostics(ctx context.Context, prog *compiler.Program, mode Mode) []diag.Diagnostic {
	out := prog.GlobalDiagnostics()
	files := prog.Files()

	for _, sf := range files {
		if ctx.Err() != nil {
			return out
		}
		if se := compiler.FirstSyntaxError(sf); se != nil {
			out = append(out, se.Diagnostic())
		}
		out = append(out, routes.Lint(sf)...)
		out = append(out, lintResources(sf)...)
	}
	if mode == ModeFast {
		return out
	}

	for _, sf := range files {
		if ctx.Err() != nil {
			return out
		}
		out = append(out, prog.SemanticDiagnostics(ctx, sf)...)
	}
	if ctx.Err() != nil {
		return out
	}

	_, structural := routes.DiscoverProgram(ctx, prog)
	for _, d := range structural {
		if d.Code == diag.CodeUnresolvedRoute {
			out = append(out, d)
		}
	}
	return out
}

func lintResources(sf *compiler.SourceFile) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, r := range transform.FindResources(sf) {
		if r.Static {
			continue
		}
		line, col := sf.Position(r.Node)
		what := "templateUrl"
		if r.Kind == transform.ResourceStyle {
			what = "styleUrls"
		}
		out = append(out, diag.Warningf(diag.CodeNonStaticResource,
			"%s entry is not a string literal and cannot be inlined.", what).At(sf.Path, line, col))
	}
	return out
}
