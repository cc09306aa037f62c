package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/spf13/cobra"

	"ngweave/internal/watch"
)

// watchCmd keeps a warm compilation and rebuilds when sources change.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild incrementally whenever project files change",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s, err := openSession(ctx, cfg, cfg.Bundle.Minify)
	if err != nil {
		return err
	}
	defer s.Close()

	bctx, cerr := api.Context(s.buildOptions(cfg.Bundle.Minify))
	if cerr != nil {
		return fmt.Errorf("failed to create bundler context: %w", cerr)
	}
	defer bctx.Dispose()

	out := cmd.ErrOrStderr()
	rebuild := func() {
		started := time.Now()
		s.report(out, bctx.Rebuild(), started)
	}
	rebuild()

	w, err := watch.New(cfg.Abs("."), s.fs, cfg.Watch, func(ctx context.Context, paths []string) {
		if ctx.Err() != nil {
			return
		}
		logger.Debug("rebuilding after changes")
		rebuild()
	})
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()

	fmt.Fprintln(cmd.OutOrStdout(), "Watching for changes. Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
	}
	return nil
}
