package main

import (
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/project"
	"github.com/muskokacottagefinder/mcf/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrape every active URL and commit one run",
	Long: `Fetch every active URL, extract listing and blog-post records, resolve
them against known listings and commit the run atomically. Afterwards the
report is written to the output directory and the Telegram digest is sent.

Exit status is 2 when another run holds the lock, 1 on any other failure.
Individual URLs that fail do not fail the run; they are listed in the summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		test, _ := cmd.Flags().GetBool("test")
		reportOnly, _ := cmd.Flags().GetBool("report-only")
		maxURLs, _ := cmd.Flags().GetInt("max-urls")
		noBlogs, _ := cmd.Flags().GetBool("no-blogs")
		noAlerts, _ := cmd.Flags().GetBool("no-alerts")

		ctx := cmd.Context()
		return withStore(ctx, func(store storage.Store) error {
			if reportOnly {
				bundle, err := project.New(store).ProjectLatest(ctx)
				if err != nil {
					return err
				}
				writeReport(bundle)
				return nil
			}
			return runOnce(ctx, store, runFlags{
				test:     test,
				maxURLs:  maxURLs,
				noBlogs:  noBlogs,
				noAlerts: noAlerts,
			})
		})
	},
}

func init() {
	runCmd.Flags().Bool("test", false, "Test mode: only the first few URLs")
	runCmd.Flags().Bool("report-only", false, "Re-project the latest committed run without fetching")
	runCmd.Flags().Int("max-urls", 0, "Maximum URLs to process (0 = all)")
	runCmd.Flags().Bool("no-blogs", false, "Skip blog-post extraction")
	runCmd.Flags().Bool("no-alerts", false, "Do not send the Telegram digest")
	rootCmd.AddCommand(runCmd)
}
