package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/content"
	"github.com/ardelis/postqueue/errors"
	"github.com/ardelis/postqueue/logger"
	"github.com/ardelis/postqueue/queue/dispatch"
	"github.com/ardelis/postqueue/queue/policy"
	"github.com/ardelis/postqueue/queue/post"
	"github.com/ardelis/postqueue/queue/schedule"
)

// PostCmd groups post lifecycle operations
var PostCmd = &cobra.Command{
	Use:   "post",
	Short: "Create, inspect, cancel, and purge posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var postCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft post",
	Long: `Create a draft post for a platform.

Either supply --content directly, or supply --topic (and optionally
--style and --point) to generate the draft body through the configured
generation endpoint.

Thread-style content uses "\n---\n" between segments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		platformName, _ := cmd.Flags().GetString("platform")
		body, _ := cmd.Flags().GetString("content")
		topic, _ := cmd.Flags().GetString("topic")
		style, _ := cmd.Flags().GetString("style")
		points, _ := cmd.Flags().GetStringArray("point")
		profileID, _ := cmd.Flags().GetString("profile")

		platform, err := policy.Parse(platformName)
		if err != nil {
			return err
		}

		store, _, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if body == "" {
			if topic == "" {
				return errors.NewValidationError("supply --content, or --topic for generation")
			}
			generator, err := content.NewClient(cfg.Generator, logger.Logger)
			if err != nil {
				return err
			}
			timeout := time.Duration(cfg.Generator.TimeoutSeconds) * time.Second
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			body, err = generator.Generate(ctx, platform, style, topic, points)
			if err != nil {
				return err
			}
		}

		p, err := post.New(platform, body, topic, style, profileID)
		if err != nil {
			return err
		}
		if err := store.Create(p); err != nil {
			return err
		}

		fmt.Printf("Created draft %s (%s)\n", p.ID, p.Platform)
		return nil
	},
}

var postShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a post as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := store.Get(args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format post")
		}
		fmt.Println(string(out))
		return nil
	},
}

var postListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts",
	RunE: func(cmd *cobra.Command, args []string) error {
		platformName, _ := cmd.Flags().GetString("platform")
		statusName, _ := cmd.Flags().GetString("status")

		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		var platformFilter *policy.Platform
		if platformName != "" {
			platform, err := policy.Parse(platformName)
			if err != nil {
				return err
			}
			platformFilter = &platform
		}
		var statusFilter *post.Status
		if statusName != "" {
			status := post.Status(statusName)
			if !status.Valid() {
				return errors.NewValidationError("unknown status %q", statusName)
			}
			statusFilter = &status
		}

		posts, err := store.List(platformFilter, statusFilter)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Println("No posts found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPLATFORM\tSTATUS\tSCHEDULED\tATTEMPTS\tCONTENT")
		for _, p := range posts {
			scheduled := "-"
			if p.ScheduledAt != nil {
				scheduled = p.ScheduledAt.UTC().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				p.ID[:8], p.Platform, p.Status, scheduled, p.AttemptCount, truncate(p.Content, 40))
		}
		return w.Flush()
	},
}

var postHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show a post's transition audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if _, err := store.Get(args[0]); err != nil {
			return err
		}
		trail, err := store.History(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tWHEN\tTRANSITION\tATTEMPT\tERROR")
		for _, e := range trail {
			fmt.Fprintf(w, "%d\t%s\t%s -> %s\t%d\t%s\n",
				e.Seq, e.CreatedAt.UTC().Format(time.RFC3339), e.FromStatus, e.ToStatus, e.Attempt, truncate(e.Error, 60))
		}
		return w.Flush()
	},
}

var postCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a post",
	Long: `Cancel a post. Draft, queued, and scheduled posts are cancelled
immediately. A post already mid-dispatch is flagged instead: the in-flight
attempt completes and its outcome stands, but no retry follows.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		engine := schedule.New(store, table, cfg.Schedule.SearchHorizonDays, logger.Logger)
		p, err := engine.Cancel(args[0])
		if err != nil {
			return err
		}

		if p.Status == post.StatusCancelled {
			fmt.Printf("Cancelled %s\n", p.ID)
		} else {
			fmt.Printf("Cancellation requested for %s (attempt in flight)\n", p.ID)
		}
		return nil
	},
}

var postPublishedCmd = &cobra.Command{
	Use:   "published <id>",
	Short: "Confirm a manual delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		d := dispatch.New(store, table, nil, dispatchConfig(cfg), logger.Logger)
		p, err := d.MarkPublished(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Marked %s published\n", p.ID)
		return nil
	},
}

var postFailedCmd = &cobra.Command{
	Use:   "failed <id>",
	Short: "Record that a manual delivery did not happen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		d := dispatch.New(store, table, nil, dispatchConfig(cfg), logger.Logger)
		p, err := d.MarkFailed(args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %s failed\n", p.ID)
		return nil
	},
}

var postPurgeCmd = &cobra.Command{
	Use:   "purge <id>",
	Short: "Destroy a terminal-state post and its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, _, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := store.Purge(args[0]); err != nil {
			return err
		}
		fmt.Printf("Purged %s\n", args[0])
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	postCreateCmd.Flags().String("platform", "", "Target platform (linkedin, twitter, instagram)")
	postCreateCmd.Flags().String("content", "", "Post body (thread segments separated by \\n---\\n)")
	postCreateCmd.Flags().String("topic", "", "Topic for generated content")
	postCreateCmd.Flags().String("style", "", "Generation style (e.g. short_post, professional_post)")
	postCreateCmd.Flags().StringArray("point", nil, "Talking point the generated draft must cover (repeatable)")
	postCreateCmd.Flags().String("profile", "", "Delivery profile id override")
	postCreateCmd.MarkFlagRequired("platform")

	postListCmd.Flags().String("platform", "", "Filter by platform")
	postListCmd.Flags().String("status", "", "Filter by status")

	postFailedCmd.Flags().String("reason", "", "Failure reason for the audit trail")

	PostCmd.AddCommand(postCreateCmd)
	PostCmd.AddCommand(postShowCmd)
	PostCmd.AddCommand(postListCmd)
	PostCmd.AddCommand(postHistoryCmd)
	PostCmd.AddCommand(postCancelCmd)
	PostCmd.AddCommand(postPublishedCmd)
	PostCmd.AddCommand(postFailedCmd)
	PostCmd.AddCommand(postPurgeCmd)
}
