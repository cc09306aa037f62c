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
)

var minifyFlag bool

// buildCmd runs one compilation and bundle.
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile and bundle the project once",
	RunE:  runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	minify := cfg.Bundle.Minify || minifyFlag
	s, err := openSession(ctx, cfg, minify)
	if err != nil {
		return err
	}
	defer s.Close()

	started := time.Now()
	res := api.Build(s.buildOptions(minify))
	s.report(cmd.ErrOrStderr(), res, started)
	if len(res.Errors) > 0 {
		return fmt.Errorf("build failed with %d errors", len(res.Errors))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d files to %s\n", len(res.OutputFiles), cfg.Abs(cfg.Bundle.OutDir))
	return nil
}
