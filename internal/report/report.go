// Package report renders a run's ReportBundle as an Excel workbook.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/muskokacottagefinder/mcf/internal/project"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Sheet names, in workbook order.
const (
	SheetAllListings  = "All Listings"
	SheetNewThisWeek  = "New This Week"
	SheetExclusives   = "Exclusives"
	SheetNewBlogPosts = "New Blog Posts"
)

var listingHeader = []any{
	"ID", "Status", "Address", "Price", "Lake", "Bedrooms", "Bathrooms", "Type",
	"Exclusive", "Waterfront", "Description", "Listing URL", "Source URL",
	"First Seen Run", "Last Seen Run",
}

var blogHeader = []any{"Title", "Published", "Post URL", "Source URL", "First Seen"}

// DefaultPath returns dir/report_YYYY-MM-DD.xlsx for the given day.
func DefaultPath(dir string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("report_%s.xlsx", day.Format("2006-01-02")))
}

// Write renders bundle to path, creating the directory if needed. An
// existing file is overwritten.
func Write(bundle *project.ReportBundle, path string) error {
	if bundle == nil {
		return fmt.Errorf("report: nil bundle")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	w, err := newWriter(f)
	if err != nil {
		return err
	}

	if err := f.SetSheetName("Sheet1", SheetAllListings); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	for _, name := range []string{SheetNewThisWeek, SheetExclusives, SheetNewBlogPosts} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", name, err)
		}
	}

	if err := w.listings(SheetAllListings, bundle.AllListings); err != nil {
		return err
	}
	if err := w.listings(SheetNewThisWeek, bundle.NewThisWeek); err != nil {
		return err
	}
	if err := w.listings(SheetExclusives, bundle.Exclusives); err != nil {
		return err
	}
	if err := w.blogPosts(SheetNewBlogPosts, bundle.NewBlogPosts); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return nil
}

type writer struct {
	f      *excelize.File
	header int
	price  int
}

func newWriter(f *excelize.File) (*writer, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"1F4E78"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	priceFmt := "$#,##0"
	price, err := f.NewStyle(&excelize.Style{CustomNumFmt: &priceFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create price style: %w", err)
	}
	return &writer{f: f, header: header, price: price}, nil
}

func (w *writer) writeHeader(sheet string, header []any) error {
	if err := w.f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := w.f.SetCellStyle(sheet, "A1", last, w.header); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	return w.f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

// listings writes one row per listing, most expensive first.
func (w *writer) listings(sheet string, listings []*types.Listing) error {
	if err := w.writeHeader(sheet, listingHeader); err != nil {
		return err
	}

	sorted := append([]*types.Listing(nil), listings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].Fields.Price, sorted[j].Fields.Price
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		}
		return *pi > *pj
	})

	for i, l := range sorted {
		row := listingRow(l)
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	if len(sorted) > 0 {
		last, _ := excelize.CoordinatesToCellName(4, len(sorted)+1)
		if err := w.f.SetCellStyle(sheet, "D2", last, w.price); err != nil {
			return fmt.Errorf("failed to style %s prices: %w", sheet, err)
		}
	}

	widths := map[string]float64{"A": 38, "C": 36, "E": 18, "K": 60, "L": 40, "M": 40}
	for col, width := range widths {
		if err := w.f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to size %s column %s: %w", sheet, col, err)
		}
	}
	return nil
}

func listingRow(l *types.Listing) []any {
	f := l.Fields
	row := []any{l.ID, string(l.Status)}
	row = append(row, text(f.Address))
	if f.Price != nil {
		row = append(row, *f.Price)
	} else {
		row = append(row, "")
	}
	row = append(row, text(f.Lake))
	if f.Bedrooms != nil {
		row = append(row, *f.Bedrooms)
	} else {
		row = append(row, "")
	}
	if f.Bathrooms != nil {
		row = append(row, *f.Bathrooms)
	} else {
		row = append(row, "")
	}
	row = append(row,
		text(f.ListingType),
		yesNo(f.Exclusive),
		yesNo(f.Waterfront),
		text(f.Description),
		text(f.ListingURL),
		l.SourceURL,
		l.FirstSeenRun,
		l.LastSeenRun,
	)
	return row
}

func (w *writer) blogPosts(sheet string, posts []*types.BlogPost) error {
	if err := w.writeHeader(sheet, blogHeader); err != nil {
		return err
	}
	for i, p := range posts {
		row := []any{p.Title, p.Published, p.PostURL, p.SourceURL, p.FirstSeenAt.Format("2006-01-02 15:04")}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := w.f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	if err := w.f.SetColWidth(sheet, "A", "A", 60); err != nil {
		return err
	}
	return w.f.SetColWidth(sheet, "C", "D", 45)
}

func text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "yes"
	default:
		return "no"
	}
}
