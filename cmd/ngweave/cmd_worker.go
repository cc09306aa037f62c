package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ngweave/internal/worker"
)

// workerCmd is the diagnostics worker spawned by build and watch when
// type_check is "worker". It reads messages from stdin and logs to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run the out-of-process diagnostics worker",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return runWorker(ctx)
	},
}

func runWorker(ctx context.Context) error {
	return worker.NewServer(nil, nil).Serve(ctx, os.Stdin)
}
