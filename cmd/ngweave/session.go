package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"ngweave/internal/build"
	"ngweave/internal/compiler"
	"ngweave/internal/config"
	"ngweave/internal/plugin"
	"ngweave/internal/routes"
	"ngweave/internal/vfs"
	"ngweave/internal/worker"
)

// session wires one project: overlay, manager, optional route store and
// worker, and the esbuild plugin instance.
type session struct {
	cfg    *config.Config
	fs     *vfs.Overlay
	mgr    *build.Manager
	store  *routes.Store
	worker *worker.Client
	inst   *plugin.Instance
}

func openSession(ctx context.Context, cfg *config.Config, minify bool) (*session, error) {
	s := &session{cfg: cfg}
	s.fs = vfs.New(vfs.Options{BaseDir: cfg.Abs("."), CacheReads: true})

	if cfg.Cache.Path != "" {
		store, err := routes.OpenStore(cfg.Abs(cfg.Cache.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open route cache: %w", err)
		}
		s.store = store
	}

	mgr, err := build.NewManager(ctx, s.fs, build.Options{
		Compiler: compiler.Options{
			BaseDir: cfg.Abs("."),
			OutDir:  cfg.OutDir(),
			Target:  cfg.CompilerOptions.Target,
			Codegen: cfg.CompilerOptions.Codegen,
		},
		Roots:               cfg.RootPaths(),
		MainModule:          cfg.Abs(cfg.MainModule),
		LazyModuleMap:       cfg.LazyModuleMap,
		Locale:              cfg.I18n.Locale,
		TypeCheckWorker:     cfg.UsesWorker(),
		ResourceConcurrency: cfg.ResourceConcurrency,
		Resources:           plugin.ResourceLoader{FS: s.fs, Minify: minify},
		Filter:              cfg.Matches,
		Store:               s.store,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.mgr = mgr

	if cfg.UsesWorker() {
		var args []string
		if cfg.IsVerbose() {
			args = append(args, "--verbose")
		}
		s.worker = worker.NewClient(worker.ExecSpawner(args...))
	}
	s.inst = plugin.NewInstance(cfg, mgr, plugin.Options{Context: ctx, Worker: s.worker})
	return s, nil
}

// buildOptions returns the esbuild options for the project bundle.
func (s *session) buildOptions(minify bool) api.BuildOptions {
	entries := make([]string, 0, len(s.cfg.Bundle.EntryPoints))
	for _, e := range s.cfg.Bundle.EntryPoints {
		entries = append(entries, s.cfg.Abs(e))
	}
	if len(entries) == 0 {
		entries = []string{s.cfg.Abs(s.cfg.MainModule)}
	}

	opts := api.BuildOptions{
		EntryPoints:       entries,
		Bundle:            true,
		Write:             true,
		Splitting:         true,
		Format:            api.FormatESModule,
		Outdir:            filepath.FromSlash(s.cfg.Abs(s.cfg.Bundle.OutDir)),
		AbsWorkingDir:     filepath.FromSlash(s.cfg.Abs(".")),
		External:          s.cfg.Bundle.External,
		MinifyWhitespace:  minify,
		MinifySyntax:      minify,
		MinifyIdentifiers: minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           []api.Plugin{s.inst.Plugin()},
	}
	if s.cfg.Bundle.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	return opts
}

// report logs the compilation and prints the bundler's messages.
func (s *session) report(w io.Writer, res api.BuildResult, started time.Time) {
	fields := []zap.Field{
		zap.Int("errors", len(res.Errors)),
		zap.Int("warnings", len(res.Warnings)),
		zap.Int("outputs", len(res.OutputFiles)),
		zap.Duration("elapsed", time.Since(started)),
	}
	if last := s.inst.LastResult(); last != nil {
		fields = append(fields,
			zap.String("build", last.BuildID.String()),
			zap.String("mode", last.Mode.String()),
			zap.Int("emitted", len(last.Emitted)),
			zap.Bool("incremental", last.Incremental),
		)
	}
	logger.Info("build finished", fields...)

	for _, text := range api.FormatMessages(res.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		fmt.Fprint(w, text)
	}
	for _, text := range api.FormatMessages(res.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}) {
		fmt.Fprint(w, text)
	}
}

// Close releases the worker and the route store.
func (s *session) Close() {
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
