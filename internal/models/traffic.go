package models

import "time"

// RequestKind classifies an outbound request for pacing purposes.
type RequestKind string

const (
	RequestKindAPI      RequestKind = "api"
	RequestKindPage     RequestKind = "page"
	RequestKindDownload RequestKind = "download"
)

// RequestRecord is one observed outbound request.
type RequestRecord struct {
	Kind       RequestKind   `json:"kind"`
	URL        string        `json:"url"`
	Method     string        `json:"method"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	Success    bool          `json:"success"`
	At         time.Time     `json:"at"`
}

// TrafficStats is the aggregate view a governor exposes for reporting.
type TrafficStats struct {
	Total          int            `json:"total"`
	Succeeded      int            `json:"succeeded"`
	Failed         int            `json:"failed"`
	AvgLatencyMS   float64        `json:"avg_latency_ms"`
	ByKind         map[string]int `json:"by_kind"`
	ByStatus       map[int]int    `json:"by_status"`
	Throttled      int            `json:"throttled"`
	PeakPerMinute  int            `json:"peak_per_minute"`
	PeakPerSecond  int            `json:"peak_per_second"`
	FirstRequestAt time.Time      `json:"first_request_at,omitempty"`
	LastRequestAt  time.Time      `json:"last_request_at,omitempty"`
}
