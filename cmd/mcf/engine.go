package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/muskokacottagefinder/mcf/internal/alert"
	"github.com/muskokacottagefinder/mcf/internal/config"
	"github.com/muskokacottagefinder/mcf/internal/extract"
	"github.com/muskokacottagefinder/mcf/internal/fetch"
	"github.com/muskokacottagefinder/mcf/internal/ledger"
	"github.com/muskokacottagefinder/mcf/internal/match"
	"github.com/muskokacottagefinder/mcf/internal/normalize"
	"github.com/muskokacottagefinder/mcf/internal/pipeline"
	"github.com/muskokacottagefinder/mcf/internal/project"
	"github.com/muskokacottagefinder/mcf/internal/report"
	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// runFlags are the options shared by `mcf run` and `mcf daemon`.
type runFlags struct {
	test     bool
	maxURLs  int
	noBlogs  bool
	noAlerts bool
}

func (f runFlags) options() pipeline.RunOptions {
	opts := pipeline.RunOptions{Mode: types.ModeFull, MaxURLs: f.maxURLs, NoBlogs: f.noBlogs}
	if f.test {
		opts.Mode = types.ModeTest
	}
	return opts
}

// buildPipeline wires the run engine from configuration.
func buildPipeline(c *config.Config, store storage.Store) (*pipeline.Pipeline, error) {
	normalizer, err := normalize.New(c.Normalize)
	if err != nil {
		return nil, err
	}
	led, err := ledger.New(store, normalizer, c.Ledger)
	if err != nil {
		return nil, err
	}
	resolver, err := match.NewResolver(c.Match)
	if err != nil {
		return nil, err
	}
	fetcher, err := fetch.NewHTTPFetcher(c.Fetch)
	if err != nil {
		return nil, err
	}
	extractor, err := extract.New(c.Extract)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Deps{
		Store:      store,
		Ledger:     led,
		Normalizer: normalizer,
		Resolver:   resolver,
		Fetcher:    fetcher,
		Extractor:  extractor,
	}, c.Pipeline)
}

// buildNotifier returns the Telegram notifier, or alert.Nop when alerts
// are disabled.
func buildNotifier(c alert.Config, disabled bool) (alert.Notifier, error) {
	if disabled || !c.Enabled() {
		return alert.Nop{}, nil
	}
	sender, err := alert.NewTelegramSender(c.Token)
	if err != nil {
		return nil, err
	}
	n, err := alert.NewTelegramNotifier(sender, c)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// runOnce scrapes, then writes the report and sends the digest for the
// committed run. Report and alert failures are reported but do not fail a
// committed run.
func runOnce(ctx context.Context, store storage.Store, flags runFlags) error {
	p, err := buildPipeline(cfg, store)
	if err != nil {
		return err
	}

	summary, err := p.Run(ctx, flags.options())
	if err != nil {
		return err
	}
	printSummary(summary)

	bundle, err := project.New(store).Project(ctx, summary.Run.ID)
	if err != nil {
		return fmt.Errorf("run %d committed but could not be projected: %w", summary.Run.ID, err)
	}
	writeReport(bundle)

	notifier, err := buildNotifier(cfg.Alert, flags.noAlerts)
	if err != nil {
		warn("alerts disabled: %v", err)
		return nil
	}
	if err := notifier.Notify(ctx, bundle); err != nil {
		warn("failed to send digest: %v", err)
	}
	return nil
}

// writeReport writes the bundle's workbook and prints its path.
func writeReport(bundle *project.ReportBundle) string {
	path := report.DefaultPath(cfg.OutputDir, time.Now())
	if err := report.Write(bundle, path); err != nil {
		warn("failed to write report: %v", err)
		return ""
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Report: %s\n", green("✓"), path)
	return path
}

func printSummary(s *ledger.RunSummary) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	r := s.Run

	fmt.Printf("\n%s Run %d completed in %v (%s)\n", green("✓"), r.ID, r.Duration().Round(time.Second), r.Mode)
	fmt.Printf("  URLs:      %d scraped, %d failed\n", r.InputURLCount-r.FailedURLCount, r.FailedURLCount)
	fmt.Printf("  New:       %s\n", green(r.NewCount))
	fmt.Printf("  Updated:   %d\n", r.UpdatedCount)
	fmt.Printf("  Unchanged: %d\n", r.UnchangedCount)
	fmt.Printf("  Exclusive: %s\n", yellow(r.ExclusiveCount))
	fmt.Printf("  Relisted:  %d\n", r.RelistedCount)
	fmt.Printf("  Delisted:  %d\n", r.DelistedCount)
	fmt.Printf("  Blog:      %d new posts\n", r.NewBlogPostCount)
	if r.LowConfidenceCount > 0 {
		fmt.Printf("  %s\n", yellow(fmt.Sprintf("%d low-confidence matches (see log)", r.LowConfidenceCount)))
	}

	if len(s.Failures) > 0 {
		fmt.Printf("\n%s\n", red("Failed URLs:"))
		for _, f := range s.Failures {
			fmt.Printf("  %s %s\n    %s\n", red("✗"), f.URL, gray(f.Error))
		}
	}
	fmt.Println()
}

func warn(format string, args ...any) {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %s\n", yellow("⚠"), fmt.Sprintf(format, args...))
}
