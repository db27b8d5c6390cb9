package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/config"
)

// DbCmd groups database operations
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database is up to date")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := store.GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n", cfg.Database.Path)
		if info, err := os.Stat(cfg.Database.Path); err == nil {
			fmt.Printf("Size: %.1f KB\n", float64(info.Size())/1024)
		}
		fmt.Printf("Posts: %d total\n", stats.Total)
		fmt.Printf("  draft:       %d\n", stats.Draft)
		fmt.Printf("  queued:      %d\n", stats.Queued)
		fmt.Printf("  scheduled:   %d\n", stats.Scheduled)
		fmt.Printf("  dispatching: %d\n", stats.Dispatching)
		fmt.Printf("  published:   %d\n", stats.Published)
		fmt.Printf("  failed:      %d\n", stats.Failed)
		fmt.Printf("  cancelled:   %d\n", stats.Cancelled)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
