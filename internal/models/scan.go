package models

import (
	"fmt"
	"time"
)

// ScanContext carries everything a run needs about the current portal
// session. It is created once per scan and passed explicitly; nothing
// here is global.
type ScanContext struct {
	ScanID       string    `json:"scan_id"`
	SearchURL    string    `json:"search_url"`
	Keyword      string    `json:"keyword"`
	BaseURL      string    `json:"base_url"`
	APIEndpoint  string    `json:"api_endpoint"`
	TotalResults int       `json:"total_results"`
	TotalPages   int       `json:"total_pages"`
	StartedAt    time.Time `json:"started_at"`
}

// ScanError records one recoverable failure during a run.
type ScanError struct {
	Stage   string    `json:"stage"`
	Page    int       `json:"page,omitempty"`
	Ref     string    `json:"ref,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e ScanError) String() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s page %d: %s", e.Stage, e.Page, e.Message)
	}
	if e.Ref != "" {
		return fmt.Sprintf("%s %s: %s", e.Stage, e.Ref, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// ScanReport is the end-of-run summary written alongside the output files.
type ScanReport struct {
	ScanID         string       `json:"scan_id"`
	Keyword        string       `json:"keyword"`
	SearchURL      string       `json:"search_url"`
	TotalResults   int          `json:"total_results"`
	PagesVisited   int          `json:"pages_visited"`
	Captured       int          `json:"captured"`
	Retrieved      int          `json:"retrieved"`
	Parsed         int          `json:"parsed"`
	Saved          int          `json:"saved"`
	Deduplicated   int          `json:"deduplicated"`
	FallbackDocs   int          `json:"fallback_documents"`
	Errors         []ScanError  `json:"errors,omitempty"`
	Traffic        TrafficStats `json:"traffic"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
	DurationSecond float64      `json:"duration_seconds"`
}
