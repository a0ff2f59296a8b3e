package models

import (
	"strings"
	"time"
)

// DocumentDescriptor is one entry of the selection manifest the portal
// front end sends when documents are marked for download. Field tags
// mirror the wire names used by the portal API.
type DocumentDescriptor struct {
	Reference string `json:"docref"`
	CacheType string `json:"cache_type"`
	SizeBytes int    `json:"size"`
	SourceID  string `json:"pbi"`
	Title     string `json:"title"`
	Product   string `json:"product"`
}

// CaptureSource records how a manifest was obtained.
type CaptureSource string

const (
	CaptureSourceNetwork CaptureSource = "network"
	CaptureSourceDOM     CaptureSource = "dom"
)

// CapturedManifest is a decoded selection manifest plus provenance.
type CapturedManifest struct {
	Documents  []DocumentDescriptor `json:"documents"`
	Raw        string               `json:"-"`
	Source     CaptureSource        `json:"source"`
	CapturedAt time.Time            `json:"captured_at"`
}

// ListingItem is the per-result metadata scraped from a results page.
type ListingItem struct {
	Reference string `json:"reference"`
	Title     string `json:"title"`
	Date      string `json:"date"`
	Source    string `json:"source"`
	Author    string `json:"author"`
	Preview   string `json:"preview"`
	URL       string `json:"url"`
}

// PageMetadataBatch groups the listing items scraped from one results page.
type PageMetadataBatch struct {
	Page  int           `json:"page"`
	Items []ListingItem `json:"items"`
}

// FilterNamespace keeps descriptors whose reference carries the given
// namespace prefix and reports how many were dropped.
func FilterNamespace(docs []DocumentDescriptor, prefix string) ([]DocumentDescriptor, int) {
	if prefix == "" {
		return docs, 0
	}
	kept := make([]DocumentDescriptor, 0, len(docs))
	dropped := 0
	for _, d := range docs {
		if strings.HasPrefix(d.Reference, prefix) {
			kept = append(kept, d)
		} else {
			dropped++
		}
	}
	return kept, dropped
}
