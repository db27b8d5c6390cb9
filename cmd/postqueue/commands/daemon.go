package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ardelis/postqueue/config"
	"github.com/ardelis/postqueue/content"
	"github.com/ardelis/postqueue/delivery"
	"github.com/ardelis/postqueue/logger"
	"github.com/ardelis/postqueue/queue/dispatch"
	"github.com/ardelis/postqueue/queue/remind"
	"github.com/ardelis/postqueue/queue/schedule"
	"github.com/ardelis/postqueue/server"
)

// DaemonCmd runs the long-lived queue processes
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the dispatcher, reminder emitter, and operator API",
	Long: `Run the queue daemon in the foreground.

The daemon:
- recovers posts stranded mid-dispatch by a previous crash
- sweeps for due posts and delivers them with retry/backoff
- emits reminders ahead of manual-platform slots
- serves the operator HTTP API when a listen address is configured
- picks up policy changes from the config file without a restart

Stops on SIGINT/SIGTERM; an in-flight delivery attempt completes first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenFlag, _ := cmd.Flags().GetString("listen")

		store, table, cfg, cleanup, err := openStore()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		deliverer, err := delivery.NewClient(cfg.Delivery, table, cfg.Dispatch.DeliveryTimeout(), logger.Logger)
		if err != nil {
			return err
		}

		dispatcher := dispatch.NewWithContext(ctx, store, table, deliverer, dispatchConfig(cfg), logger.Logger)

		recovered, err := dispatcher.RecoverOrphans()
		if err != nil {
			return err
		}
		if recovered > 0 {
			logger.Logger.Infow("Recovered posts stranded by previous shutdown", "count", recovered)
		}

		emitter := remind.NewWithContext(ctx, store, nil, remind.Config{
			LeadWindow:   cfg.Reminder.LeadWindow(),
			PollInterval: cfg.Reminder.PollInterval(),
		}, logger.Logger)

		dispatcher.Start()
		emitter.Start()

		var api *server.Server
		listen := cfg.Server.Listen
		if listenFlag != "" {
			listen = listenFlag
		}
		if listen != "" {
			engine := schedule.New(store, table, cfg.Schedule.SearchHorizonDays, logger.Logger)

			// Generation is optional; the API runs without it
			var generator content.Generator
			if gen, err := content.NewClient(cfg.Generator, logger.Logger); err == nil {
				generator = gen
			} else {
				logger.Logger.Infow("Content generation disabled", "reason", err)
			}

			api = server.New(listen, store, engine, dispatcher, generator, logger.Logger)
			go func() {
				if err := api.Start(); err != nil {
					logger.Logger.Errorw("Operator API error", "error", err)
					cancel()
				}
			}()
		}

		watcher := startConfigWatcher(table)
		if watcher != nil {
			defer watcher.Close()
		}

		fmt.Println("postqueue daemon started")
		fmt.Printf("  Database: %s\n", cfg.Database.Path)
		fmt.Printf("  Sweep interval: %v\n", cfg.Dispatch.SweepInterval())
		fmt.Printf("  Reminder lead: %v\n", cfg.Reminder.LeadWindow())
		if listen != "" {
			fmt.Printf("  Operator API: http://%s\n", listen)
		}
		fmt.Println("Press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			fmt.Printf("\nReceived %v, shutting down...\n", sig)
		case <-ctx.Done():
		}

		if api != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				logger.Logger.Warnw("Operator API shutdown error", "error", err)
			}
		}
		emitter.Stop()
		dispatcher.Stop()

		fmt.Println("Daemon stopped")
		return nil
	},
}

// startConfigWatcher watches the effective config file and hot-reloads the
// policy table. Interval changes still need a restart; the watcher says so.
func startConfigWatcher(table interface {
	Reload(map[string]config.PolicyConfig) error
}) *config.Watcher {
	path := config.UserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		logger.Logger.Warnw("Config watcher unavailable", "error", err)
		return nil
	}

	watcher.OnReload(func(cfg *config.Config) error {
		if err := table.Reload(cfg.Policy); err != nil {
			return err
		}
		logger.Logger.Infow("Policy table reloaded; interval changes apply after restart")
		return nil
	})
	watcher.Start()
	return watcher
}

func init() {
	DaemonCmd.Flags().String("listen", "", "Operator API listen address (overrides config)")
}
