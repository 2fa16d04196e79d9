// Package urlimport reads target URL lists from .txt, .csv, .json and .xlsx
// files and adds them to the store.
package urlimport

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/muskokacottagefinder/mcf/internal/storage"
	"github.com/muskokacottagefinder/mcf/internal/types"
)

// Entry is one URL read from a file.
type Entry struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
}

// Result counts what an import did.
type Result struct {
	Read     int // entries offered
	Added    int // new or reactivated URLs
	Existing int // already active
}

// ReadFile reads entries from path, picking the format by extension.
// Values that are not http(s) URLs are returned in invalid; duplicates are
// dropped.
func ReadFile(path string) (entries []Entry, invalid []string, err error) {
	var raw []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		raw, err = readXLSX(path)
	case ".csv":
		raw, err = readCSV(path)
	case ".json":
		raw, err = readJSON(path)
	default:
		raw, err = readLines(path)
	}
	if err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	for _, e := range raw {
		e.URL = strings.TrimSpace(e.URL)
		if e.URL == "" || seen[e.URL] {
			continue
		}
		if types.ValidateTargetURL(e.URL) != nil {
			invalid = append(invalid, e.URL)
			continue
		}
		seen[e.URL] = true
		entries = append(entries, e)
	}
	return entries, invalid, nil
}

// Import adds entries to store. Entries without a category get category.
func Import(ctx context.Context, store storage.Store, entries []Entry, category string) (*Result, error) {
	res := &Result{Read: len(entries)}
	for _, e := range entries {
		existing, err := store.GetURL(ctx, e.URL)
		switch {
		case err == nil && existing.Active:
			res.Existing++
			continue
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return res, err
		}

		cat := e.Category
		if cat == "" {
			cat = category
		}
		if err := store.AddURL(ctx, &types.TargetURL{URL: e.URL, Name: e.Name, Category: cat}); err != nil {
			return res, err
		}
		res.Added++
	}
	return res, nil
}

func readLines(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, Entry{URL: line})
	}
	return entries, nil
}

// readJSON accepts an array of URL strings or an array of Entry objects.
func readJSON(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err == nil {
		entries := make([]Entry, 0, len(urls))
		for _, u := range urls {
			entries = append(entries, Entry{URL: u})
		}
		return entries, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: want an array of URLs or of {\"url\": ...} objects: %w", path, err)
	}
	return entries, nil
}

func readCSV(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	return fromRows(rows), nil
}

func readXLSX(path string) ([]Entry, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return fromRows(rows), nil
}

// fromRows takes the first column whose header mentions "url", else the
// first column. Name and category columns are picked up when present.
func fromRows(rows [][]string) []Entry {
	if len(rows) == 0 {
		return nil
	}

	urlCol, nameCol, catCol := -1, -1, -1
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case urlCol < 0 && strings.Contains(h, "url") && types.ValidateTargetURL(h) != nil:
			urlCol = i
		case nameCol < 0 && h == "name":
			nameCol = i
		case catCol < 0 && h == "category":
			catCol = i
		}
	}
	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	body := rows[1:]
	if urlCol < 0 {
		urlCol, nameCol, catCol = 0, -1, -1
		// A first row that is already a URL is data, not a header.
		if types.ValidateTargetURL(cell(rows[0], 0)) == nil {
			body = rows
		}
	}
	var entries []Entry
	for _, row := range body {
		entries = append(entries, Entry{
			URL:      cell(row, urlCol),
			Name:     cell(row, nameCol),
			Category: cell(row, catCol),
		})
	}
	return entries
}
