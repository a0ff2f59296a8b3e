package models

import (
	"strings"
	"time"
)

// ParsedDocument is the structured form of one article extracted from a
// portal HTML response.
type ParsedDocument struct {
	Title           string    `json:"title"`
	Date            string    `json:"date"`
	PublishedAt     time.Time `json:"published_at,omitempty"`
	Source          string    `json:"source"`
	Author          string    `json:"author,omitempty"`
	BodyText        string    `json:"body_text"`
	BodyMarkdown    string    `json:"body_markdown,omitempty"`
	WordCount       int       `json:"word_count"`
	SourceURL       string    `json:"source_url,omitempty"`
	DescriptorRef   string    `json:"descriptor_ref,omitempty"`
	Relevance       float64   `json:"relevance,omitempty"`
	RelevanceReason string    `json:"relevance_reason,omitempty"`
}

// Complete reports whether the document carries enough content to be
// worth persisting. Title and a body of at least minBodyChars are required.
func (d *ParsedDocument) Complete(minBodyChars int) bool {
	if strings.TrimSpace(d.Title) == "" {
		return false
	}
	return len(strings.TrimSpace(d.BodyText)) >= minBodyChars
}

// CountWords updates WordCount from the current body text.
func (d *ParsedDocument) CountWords() {
	d.WordCount = len(strings.Fields(d.BodyText))
}
