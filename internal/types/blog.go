package types

import "time"

// RawBlogPost is one extracted blog post or news article link.
type RawBlogPost struct {
	SourceURL string  `json:"source_url"`
	PostURL   string  `json:"post_url"`
	Title     string  `json:"title"`
	Date      *string `json:"date,omitempty"`
}

// BlogPost is a post tracked by canonical identifier (normalized title + publish date).
type BlogPost struct {
	ID           string    `json:"id"`
	SourceURL    string    `json:"source_url"`
	PostURL      string    `json:"post_url"`
	Title        string    `json:"title"`
	Published    string    `json:"published,omitempty"`
	FirstSeenRun int64     `json:"first_seen_run"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}
