package traffic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// Governor enforces request ceilings for a scan and records every
// outbound request for reporting. All portal traffic, API calls and
// page loads alike, funnels through one governor so the combined rate
// stays under the portal's throttling threshold.
type Governor struct {
	perSecond *rate.Limiter
	perMinute *rate.Limiter

	maxPerMinute  int
	maxPerSecond  int
	warnThreshold float64
	logger        arbor.ILogger

	mu            sync.Mutex
	records       []models.RequestRecord
	throttled     int
	warnedMinute  bool
	warnedSecond  bool
	warnedBlocked bool
	peakPerMinute int
	peakPerSecond int
}

// NewGovernor creates a governor from traffic configuration.
func NewGovernor(config common.TrafficConfig, logger arbor.ILogger) *Governor {
	return &Governor{
		perSecond:     rate.NewLimiter(rate.Limit(config.MaxPerSecond), config.MaxPerSecond),
		perMinute:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.MaxPerMinute)), 1),
		maxPerMinute:  config.MaxPerMinute,
		maxPerSecond:  config.MaxPerSecond,
		warnThreshold: config.WarnThreshold,
		logger:        logger,
	}
}

// ShouldWait reports whether the next request would be delayed by either
// ceiling. It does not consume an allowance.
func (g *Governor) ShouldWait() bool {
	return g.perSecond.Tokens() < 1 || g.perMinute.Tokens() < 1
}

// WaitIfNeeded blocks until the next request is allowed under both the
// per-second and per-minute ceilings.
func (g *Governor) WaitIfNeeded(ctx context.Context, kind models.RequestKind) error {
	if err := g.perSecond.Wait(ctx); err != nil {
		return err
	}
	if err := g.perMinute.Wait(ctx); err != nil {
		return err
	}
	g.checkPressure(kind)
	return nil
}

// checkPressure warns once per window type when sustained usage crosses
// the configured share of a ceiling.
func (g *Governor) checkPressure(kind models.RequestKind) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	lastMinute := g.countSinceLocked(now.Add(-time.Minute))
	lastSecond := g.countSinceLocked(now.Add(-time.Second))

	if !g.warnedMinute && float64(lastMinute) >= g.warnThreshold*float64(g.maxPerMinute) {
		g.warnedMinute = true
		g.logger.Warn().
			Int("last_minute", lastMinute).
			Int("ceiling", g.maxPerMinute).
			Str("kind", string(kind)).
			Msg("Request rate approaching per-minute ceiling")
	}
	if !g.warnedSecond && float64(lastSecond) >= g.warnThreshold*float64(g.maxPerSecond) {
		g.warnedSecond = true
		g.logger.Warn().
			Int("last_second", lastSecond).
			Int("ceiling", g.maxPerSecond).
			Str("kind", string(kind)).
			Msg("Request rate approaching per-second ceiling")
	}
}

// Observe records a completed request. Records are append-only and never
// mutated afterwards.
func (g *Governor) Observe(record models.RequestRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records = append(g.records, record)

	if record.StatusCode == http.StatusTooManyRequests {
		g.throttled++
		if !g.warnedBlocked {
			g.warnedBlocked = true
			g.logger.Warn().
				Str("url", record.URL).
				Msg("Server returned 429, portal is throttling this session")
		} else {
			g.logger.Debug().
				Str("url", record.URL).
				Int("throttled_total", g.throttled).
				Msg("Further throttling response observed")
		}
	}

	if minute := g.countSinceLocked(record.At.Add(-time.Minute)); minute > g.peakPerMinute {
		g.peakPerMinute = minute
	}
	if second := g.countSinceLocked(record.At.Add(-time.Second)); second > g.peakPerSecond {
		g.peakPerSecond = second
	}
}

func (g *Governor) countSinceLocked(cutoff time.Time) int {
	count := 0
	for i := len(g.records) - 1; i >= 0; i-- {
		if g.records[i].At.Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// Stats returns the aggregate view of everything observed so far.
func (g *Governor) Stats() models.TrafficStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := models.TrafficStats{
		Total:         len(g.records),
		ByKind:        make(map[string]int),
		ByStatus:      make(map[int]int),
		Throttled:     g.throttled,
		PeakPerMinute: g.peakPerMinute,
		PeakPerSecond: g.peakPerSecond,
	}
	var totalLatency time.Duration
	for _, r := range g.records {
		stats.ByKind[string(r.Kind)]++
		stats.ByStatus[r.StatusCode]++
		if r.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		totalLatency += r.Latency
	}
	if len(g.records) > 0 {
		stats.AvgLatencyMS = float64(totalLatency.Milliseconds()) / float64(len(g.records))
		stats.FirstRequestAt = g.records[0].At
		stats.LastRequestAt = g.records[len(g.records)-1].At
	}
	return stats
}

// WriteReport writes the aggregate statistics to a JSON file.
func (g *Governor) WriteReport(path string) error {
	stats := g.Stats()
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
