package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/muskokacottagefinder/mcf/internal/scheduler"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/web"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run on the configured cron schedule until stopped",
	Long: `Run scrapes on the schedule in the config (schedule.cron, evaluated in
schedule.timezone). A trigger that fires while a run is still going is
skipped. With --serve the dashboard is served from the same process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		noBlogs, _ := cmd.Flags().GetBool("no-blogs")
		noAlerts, _ := cmd.Flags().GetBool("no-alerts")
		runOnStart, _ := cmd.Flags().GetBool("run-on-start")
		if serve {
			if err := cfg.ValidateWeb(); err != nil {
				return err
			}
		}

		schedCfg := cfg.Schedule
		if runOnStart {
			schedCfg.RunOnStart = true
		}

		ctx := cmd.Context()
		return withStore(ctx, func(store storage.Store) error {
			flags := runFlags{noBlogs: noBlogs, noAlerts: noAlerts}
			sched, err := scheduler.New(schedCfg, func(ctx context.Context) error {
				err := runOnce(ctx, store, flags)
				if errors.Is(err, storage.ErrRunInProgress) {
					log.Printf("[SCHED] Skipping: %v", err)
					return nil
				}
				return err
			})
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			cyan := color.New(color.FgCyan).SprintFunc()
			fmt.Printf("%s Daemon started: %s (%s)\n", green("✓"), cyan(schedCfg.Cron), schedCfg.Timezone)
			fmt.Printf("  Next run: %s\n", sched.Next().Format("Mon Jan 2 15:04 MST"))
			fmt.Printf("  Press Ctrl+C to stop\n\n")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return sched.Run(gctx) })
			if serve {
				srv, err := web.New(store, cfg.Web)
				if err != nil {
					return err
				}
				g.Go(func() error { return srv.ListenAndServe(gctx) })
			}
			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Printf("%s Daemon stopped\n", green("✓"))
			return nil
		})
	},
}

func init() {
	daemonCmd.Flags().Bool("serve", false, "Also serve the dashboard")
	daemonCmd.Flags().Bool("run-on-start", false, "Run once immediately, then on schedule")
	daemonCmd.Flags().Bool("no-blogs", false, "Skip blog-post extraction")
	daemonCmd.Flags().Bool("no-alerts", false, "Do not send the Telegram digest")
	rootCmd.AddCommand(daemonCmd)
}
