package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "List tracked listings, most expensive first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		lake, _ := cmd.Flags().GetString("lake")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := types.ListingFilter{
			Status:    types.ListingStatus(status),
			Lake:      lake,
			SourceURL: source,
		}
		if filter.Status != "" && !filter.Status.IsValid() {
			return fmt.Errorf("invalid status %q (want active, exclusive or delisted)", status)
		}

		return withStore(cmd.Context(), func(store storage.Store) error {
			listings, err := store.ListListings(cmd.Context(), filter)
			if err != nil {
				return err
			}
			sortByPrice(listings)
			if limit > 0 && len(listings) > limit {
				listings = listings[:limit]
			}
			if len(listings) == 0 {
				gray := color.New(color.FgHiBlack).SprintFunc()
				fmt.Printf("%s\n", gray("No listings."))
				return nil
			}

			fmt.Printf("%-12s %-36s %-16s %-4s %-10s %s\n", "PRICE", "ADDRESS", "LAKE", "BEDS", "STATUS", "ID")
			for _, l := range listings {
				fmt.Printf("%-12s %-36s %-16s %-4s %s %s\n",
					field(l.Fields, types.FieldPrice),
					truncate(field(l.Fields, types.FieldAddress), 36),
					truncate(field(l.Fields, types.FieldLake), 16),
					field(l.Fields, types.FieldBedrooms),
					statusLabel(l.Status),
					l.ID)
			}
			fmt.Printf("\nTotal: %d listings\n", len(listings))
			return nil
		})
	},
}

var listingCmd = &cobra.Command{
	Use:   "listing <id>",
	Short: "Show one listing with its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store storage.Store) error {
			l, err := store.GetListing(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			gray := color.New(color.FgHiBlack).SprintFunc()

			fmt.Printf("\n%s\n", cyan(field(l.Fields, types.FieldAddress)))
			fmt.Printf("  ID:      %s\n", l.ID)
			fmt.Printf("  Status:  %s", statusLabel(l.Status))
			if l.MissedRuns > 0 {
				fmt.Printf(" %s", gray(fmt.Sprintf("(missed %d runs)", l.MissedRuns)))
			}
			fmt.Println()
			fmt.Printf("  Source:  %s\n", l.SourceURL)
			fmt.Printf("  Seen:    runs %d-%d\n", l.FirstSeenRun, l.LastSeenRun)

			fmt.Printf("\n%s\n", yellow("Fields:"))
			for _, name := range types.FieldNames {
				if v, ok := l.Fields.Render(name); ok {
					fmt.Printf("  %-13s %s\n", name, v)
				}
			}

			if len(l.History) > 0 {
				fmt.Printf("\n%s\n", yellow("History:"))
				for _, h := range l.History {
					fmt.Printf("  run %-5d %s\n", h.RunID, h.Kind)
					for _, c := range h.Diff {
						fmt.Printf("    %s\n", gray(c.String()))
					}
				}
			}
			fmt.Println()
			return nil
		})
	},
}

// field renders one field for display, "-" when missing.
func field(f types.Fields, name string) string {
	v, ok := f.Render(name)
	if !ok {
		return "-"
	}
	if name == types.FieldPrice && f.Price != nil {
		return "$" + groupThousands(*f.Price)
	}
	return v
}

func statusLabel(s types.ListingStatus) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case types.StatusExclusive:
		return color.New(color.FgYellow).Sprint(label)
	case types.StatusDelisted:
		return color.New(color.FgHiBlack).Sprint(label)
	default:
		return color.New(color.FgGreen).Sprint(label)
	}
}

// sortByPrice orders listings most expensive first, unpriced last.
func sortByPrice(listings []*types.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		pi, pj := listings[i].Fields.Price, listings[j].Fields.Price
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		}
		return *pi > *pj
	})
}

func groupThousands(n int64) string {
	if n < 0 {
		return "-" + groupThousands(-n)
	}
	s := fmt.Sprintf("%d", n)
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}

func init() {
	listingsCmd.Flags().String("status", "", "Filter by status: active, exclusive or delisted")
	listingsCmd.Flags().String("lake", "", "Filter by lake (substring, case-insensitive)")
	listingsCmd.Flags().String("source", "", "Filter by source URL")
	listingsCmd.Flags().IntP("limit", "n", 0, "Show at most n listings (0 = all)")
	rootCmd.AddCommand(listingsCmd, listingCmd)
}
