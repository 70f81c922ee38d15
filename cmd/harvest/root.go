package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "harvest",
		Short:         "Harvest instructor effort for a term from the source systems",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newPreviewCmd(), newExecuteCmd(), newMigrateCmd())
	return cmd
}

// Execute runs the CLI until it finishes or the process is interrupted; an
// interrupted execute rolls its transaction back.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		status := exitCode(err)
		fmt.Fprintf(os.Stderr, "harvest: %s: %v\n", status, err)
		os.Exit(int(status))
	}
}
