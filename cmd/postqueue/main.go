package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/cmd/postqueue/commands"
	"github.com/ardelis/postqueue/logger"
)

var rootCmd = &cobra.Command{
	Use:   "postqueue",
	Short: "Post scheduling and delivery queue",
	Long: `postqueue - durable scheduling and delivery queue for social posts.

Posts move draft -> queued -> scheduled -> dispatching -> published,
with per-platform rate ceilings, retry with exponential backoff, manual
delivery handoff, and a full audit trail in SQLite.

Available commands:
  post      - Create, inspect, cancel, and purge posts
  queue     - Enqueue posts and assign delivery slots
  calendar  - Show the scheduled calendar per platform
  daemon    - Run the dispatcher, reminder emitter, and operator API
  db        - Database operations
  config    - Manage configuration

Examples:
  postqueue post create --platform twitter --content "hello"
  postqueue queue enqueue <id>
  postqueue queue assign <id>
  postqueue daemon`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.PostCmd)
	rootCmd.AddCommand(commands.QueueCmd)
	rootCmd.AddCommand(commands.CalendarCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
