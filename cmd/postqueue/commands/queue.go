package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/logger"
	"github.com/ardelis/postqueue/queue/dispatch"
	"github.com/ardelis/postqueue/queue/schedule"
)

// QueueCmd groups scheduling operations
var QueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Enqueue posts and assign delivery slots",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var queueEnqueueCmd = &cobra.Command{
	Use:   "enqueue <id>",
	Short: "Move a draft post into the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		engine := schedule.New(store, table, cfg.Schedule.SearchHorizonDays, logger.Logger)
		p, err := engine.Enqueue(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Enqueued %s (%s)\n", p.ID, p.Platform)
		return nil
	},
}

var queueAssignCmd = &cobra.Command{
	Use:   "assign <id>",
	Short: "Assign a delivery slot to a queued post",
	Long: `Assign a delivery slot to a queued post.

Without --at, the platform's preferred time-of-day on the earliest day
with spare capacity is chosen. With --at, the search starts at the given
RFC3339 timestamp and keeps its time-of-day while advancing past full
days. Fails when every day inside the search horizon is full; the post
stays queued.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawAt, _ := cmd.Flags().GetString("at")

		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		var requestedAt *time.Time
		if rawAt != "" {
			at, err := time.Parse(time.RFC3339, rawAt)
			if err != nil {
				return errors.NewValidationError("invalid --at %q (want RFC3339)", rawAt)
			}
			requestedAt = &at
		}

		engine := schedule.New(store, table, cfg.Schedule.SearchHorizonDays, logger.Logger)
		p, err := engine.AssignSlot(args[0], requestedAt)
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled %s for %s\n", p.ID, p.ScheduledAt.UTC().Format(time.RFC3339))
		return nil
	},
}

var queueBatchCmd = &cobra.Command{
	Use:   "batch [id...]",
	Short: "Assign slots to queued posts in bulk",
	Long: `Assign slots to queued posts in bulk, cycling platforms round-robin
and rebalancing each platform's calendar afterwards. With no ids, every
queued post is scheduled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		engine := schedule.New(store, table, cfg.Schedule.SearchHorizonDays, logger.Logger)
		result, err := engine.ScheduleBatch(args)
		if err != nil {
			return err
		}

		for _, p := range result.Scheduled {
			fmt.Printf("Scheduled %s (%s) for %s\n",
				p.ID[:8], p.Platform, p.ScheduledAt.UTC().Format(time.RFC3339))
		}
		for id, reason := range result.Failed {
			fmt.Printf("Skipped %s: %s\n", id[:8], reason)
		}
		fmt.Printf("%d scheduled, %d skipped\n", len(result.Scheduled), len(result.Failed))
		return nil
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show post counts by lifecycle state",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := store.GetStats()
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format stats")
		}
		fmt.Println(string(out))
		return nil
	},
}

// dispatchConfig maps the loaded configuration onto dispatcher tuning
func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		SweepInterval:   cfg.Dispatch.SweepInterval(),
		DeliveryTimeout: cfg.Dispatch.DeliveryTimeout(),
		MaxBackoff:      cfg.Dispatch.MaxBackoff(),
	}
}

func init() {
	queueAssignCmd.Flags().String("at", "", "Requested slot (RFC3339)")

	QueueCmd.AddCommand(queueEnqueueCmd)
	QueueCmd.AddCommand(queueAssignCmd)
	QueueCmd.AddCommand(queueBatchCmd)
	QueueCmd.AddCommand(queueStatsCmd)
}
