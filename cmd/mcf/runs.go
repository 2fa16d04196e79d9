package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/project"
	"github.com/muskokacottagefinder/mcf/internal/report"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				gray := color.New(color.FgHiBlack).SprintFunc()
				fmt.Printf("%s\n", gray("No runs yet. Start one with 'mcf run'."))
				return nil
			}

			green := color.New(color.FgGreen).SprintFunc()
			red := color.New(color.FgRed).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%-5s %-16s %-5s %-10s %-9s %4s %4s %4s %4s %4s\n",
				"RUN", "STARTED", "MODE", "STATUS", "URLS", "NEW", "UPD", "EXCL", "DEL", "BLOG")
			for _, r := range runs {
				status := green(fmt.Sprintf("%-10s", r.Status))
				if r.Status == types.RunFailed {
					status = red(fmt.Sprintf("%-10s", r.Status))
				}
				fmt.Printf("%-5d %-16s %-5s %s %-9s %4d %4d %4d %4d %4d\n",
					r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mode, status,
					fmt.Sprintf("%d/%d", r.InputURLCount-r.FailedURLCount, r.InputURLCount),
					r.NewCount, r.UpdatedCount, r.ExclusiveCount, r.DelistedCount, r.NewBlogPostCount)
				if r.Error != "" {
					fmt.Printf("      %s\n", gray(truncate(r.Error, 100)))
				}
			}
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the .xlsx report for a committed run",
	Long: `Write the workbook (All Listings, New This Week, Exclusives, New Blog
Posts) for the latest completed run, or for --run N. Nothing is fetched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetInt64("run")
		out, _ := cmd.Flags().GetString("out")

		return withStore(cmd.Context(), func(store storage.Store) error {
			projector := project.New(store)
			var (
				bundle *project.ReportBundle
				err    error
			)
			if runID > 0 {
				bundle, err = projector.Project(cmd.Context(), runID)
			} else {
				bundle, err = projector.ProjectLatest(cmd.Context())
			}
			if err != nil {
				return err
			}

			if out == "" {
				if writeReport(bundle) == "" {
					return fmt.Errorf("report was not written")
				}
				return nil
			}
			if err := report.Write(bundle, out); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Report: %s\n", green("✓"), out)
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().IntP("limit", "n", 10, "Number of runs to show")
	reportCmd.Flags().Int64("run", 0, "Run to report on (default: latest completed)")
	reportCmd.Flags().StringP("out", "o", "", "Output path (default: <output_dir>/report_YYYY-MM-DD.xlsx)")
	rootCmd.AddCommand(runsCmd, reportCmd)
}
