package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/viewdeck/viewdeck/cmd/viewdeckd/commands"
	"github.com/viewdeck/viewdeck/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "viewdeckd",
	Short: "viewdeckd - scheduled, multi-window view dispatcher",
	Long: `viewdeckd hosts the view dispatcher core: a router, a bounded worker
pool, a middleware pipeline, and the controller that keeps one
ViewRuntime alive per (user, route) pair and fans its responses out to
every attached browser window.

Available commands:
  serve    - Start the websocket gateway and dispatcher
  version  - Show build information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logging.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase output verbosity")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
