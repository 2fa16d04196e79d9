package types

import "time"

// Link is an anchor harvested from a fetched page. Href is absolute.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Page is one fetched target URL, reduced to readable text plus its links.
type Page struct {
	URL       string    `json:"url"`
	Text      string    `json:"text"`
	Links     []Link    `json:"links,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}
