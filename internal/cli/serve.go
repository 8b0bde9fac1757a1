package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the batch workers and the reconciliation sweep",
		Long: `Start one batch worker per queue, the reconciliation scheduler and,
when metrics.addr is set, the Prometheus /metrics endpoint.

Workers flush their pending batches before the command exits on SIGINT or
SIGTERM.

Example:
  kudos serve --config kudos.yaml
  KUDOS_REDIS_ADDR=localhost:6379 kudos serve -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
	return cmd
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	svc, err := opts.openService(cmd, f)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			f.VerboseLog("received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if f.Format != "json" {
		fmt.Fprintln(f.Writer, "Pipeline started. Press Ctrl-C to stop.")
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return f.fail(ExitFailure, CodeBackend, "pipeline error", err)
	}
	return f.Success(map[string]string{"state": "stopped"})
}
