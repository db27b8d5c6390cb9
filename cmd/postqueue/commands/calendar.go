package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/queue/policy"
)

// CalendarCmd shows the scheduled calendar
var CalendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Show the scheduled calendar per platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		platformName, _ := cmd.Flags().GetString("platform")
		days, _ := cmd.Flags().GetInt("days")

		store, table, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		platforms := table.Platforms()
		if platformName != "" {
			platform, err := policy.Parse(platformName)
			if err != nil {
				return err
			}
			platforms = []policy.Platform{platform}
		}

		from := time.Now().UTC()
		to := from.AddDate(0, 0, days)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tPLATFORM\tSTATUS\tID\tCONTENT")
		total := 0
		for _, platform := range platforms {
			posts, err := store.QueryWindow(platform, from, to)
			if err != nil {
				return err
			}
			for _, p := range posts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					p.ScheduledAt.UTC().Format("2006-01-02 15:04"), p.Platform, p.Status, p.ID[:8], truncate(p.Content, 40))
				total++
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if total == 0 {
			fmt.Printf("Nothing scheduled in the next %d days\n", days)
		}
		return nil
	},
}

func init() {
	CalendarCmd.Flags().String("platform", "", "Limit to one platform")
	CalendarCmd.Flags().Int("days", 30, "Days ahead to show")
}
