package normalize

import "strings"

// BlogPostID returns the canonical identifier of a blog post: the cleaned
// title and the trimmed publish date joined by "|". Two sightings of the
// same post compare equal even when punctuation or case differ.
func BlogPostID(title string, date *string) string {
	d := ""
	if date != nil {
		d = strings.TrimSpace(*date)
	}
	return cleanText(title) + "|" + d
}
