package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
	"github.com/muskokacottagefinder/mcf/internal/urlimport"
)

var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "Manage the broker and blog URLs scraped on every run",
}

var urlsAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Add a URL (or reactivate a removed one)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category); err != nil {
			return err
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			u := &types.TargetURL{URL: args[0], Name: name, Category: category}
			if err := store.AddURL(cmd.Context(), u); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Added %s (%s)\n", green("✓"), u.URL, u.Category)
			return nil
		})
	},
}

var urlsRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Deactivate a URL; its listings and history are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store storage.Store) error {
			if err := store.RemoveURL(cmd.Context(), args[0]); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Removed %s\n", green("✓"), args[0])
			return nil
		})
	},
}

var urlsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import URLs from a .txt, .csv, .json or .xlsx file",
	Long: `Import URLs from a file. Text files hold one URL per line (# starts a
comment). JSON files hold an array of URLs or of {"url", "name", "category"}
objects. For .csv and .xlsx the first column whose header mentions "url" is
used, otherwise the first column.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		if err := checkCategory(category); err != nil {
			return err
		}

		entries, invalid, err := urlimport.ReadFile(args[0])
		if err != nil {
			return err
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		for _, v := range invalid {
			fmt.Printf("  %s skipping %q: not an http(s) URL\n", yellow("⚠"), v)
		}
		if len(entries) == 0 {
			return fmt.Errorf("no valid URLs found in %s", args[0])
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			res, err := urlimport.Import(cmd.Context(), store, entries, category)
			if err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Imported %d new URLs (%d already present, %d in file)\n",
				green("✓"), res.Added, res.Existing, res.Read)
			return nil
		})
	},
}

var urlsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List target URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		return withStore(cmd.Context(), func(store storage.Store) error {
			urls, err := store.ListURLs(cmd.Context(), !all)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				gray := color.New(color.FgHiBlack).SprintFunc()
				fmt.Printf("%s\n", gray("No URLs. Add one with 'mcf urls add <url>'."))
				return nil
			}

			red := color.New(color.FgRed).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()
			fmt.Printf("%-60s %-8s %-7s %-6s %s\n", "URL", "CATEGORY", "ACTIVE", "ERRORS", "LAST SCRAPED")
			for _, u := range urls {
				active := "yes"
				if !u.Active {
					active = gray("no ")
				}
				errs := fmt.Sprintf("%-6d", u.ErrorCount)
				if u.ErrorCount > 0 {
					errs = red(errs)
				}
				scraped := "-"
				if u.LastScraped != nil {
					scraped = u.LastScraped.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("%-60s %-8s %-7s %s %s\n", truncate(u.URL, 60), u.Category, active, errs, scraped)
				if u.LastError != "" {
					fmt.Printf("  %s\n", gray(truncate(u.LastError, 100)))
				}
			}
			fmt.Printf("\nTotal: %d URLs\n", len(urls))
			return nil
		})
	},
}

var urlsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show URL statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store storage.Store) error {
			stats, err := store.GetURLStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Total URLs:  %d\n", stats.Total)
			fmt.Printf("Active:      %d\n", stats.Active)
			fmt.Printf("With errors: %d\n", stats.WithErrors)

			cats := make([]string, 0, len(stats.ByCategory))
			for c := range stats.ByCategory {
				cats = append(cats, c)
			}
			sort.Strings(cats)
			if len(cats) > 0 {
				fmt.Println("\nBy category:")
				for _, c := range cats {
					fmt.Printf("  %-10s %d\n", c, stats.ByCategory[c])
				}
			}
			return nil
		})
	},
}

func checkCategory(category string) error {
	switch category {
	case types.CategoryBroker, types.CategoryBlog:
		return nil
	}
	return fmt.Errorf("invalid category %q (want %s or %s)", category, types.CategoryBroker, types.CategoryBlog)
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func init() {
	urlsAddCmd.Flags().String("name", "", "Display name for the site")
	urlsAddCmd.Flags().String("category", types.CategoryBroker, "Category: broker or blog")
	urlsImportCmd.Flags().String("category", types.CategoryBroker, "Category for entries that do not name one")
	urlsListCmd.Flags().Bool("all", false, "Include removed URLs")

	urlsCmd.AddCommand(urlsAddCmd, urlsRemoveCmd, urlsImportCmd, urlsListCmd, urlsStatsCmd)
	rootCmd.AddCommand(urlsCmd)
}
