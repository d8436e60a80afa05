// Command orchestra is the multi-agent orchestrator's process entry point.
//
// It loads configuration, wires the event bus, command bus, task store,
// agent instance manager, and plan director together, starts the cron
// service and the websocket gateway adapter, and serves until it receives
// SIGINT/SIGTERM, at which point it shuts everything down gracefully and
// exits 0.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orchestra",
		Short:   "Multi-agent orchestration runtime",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	cmd.AddCommand(buildServeCmd())
	cmd.AddCommand(buildStatusCmd())
	cmd.AddCommand(buildTasksCmd())
	return cmd
}
