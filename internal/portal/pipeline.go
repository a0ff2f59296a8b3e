package portal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// maxReportedErrors caps how many errors the final report keeps. The
// full count still appears in the scan log.
const maxReportedErrors = 25

// Driver is the browser surface the pipeline drives: page navigation
// plus the in-page actions the capturer needs.
type Driver interface {
	Navigator
	Page
}

// TrafficReporter exposes aggregate request statistics for the report.
type TrafficReporter interface {
	Stats() models.TrafficStats
}

// KnownSet answers whether a reference was retrieved in an earlier
// session. References it knows are skipped instead of re-fetched.
type KnownSet interface {
	Has(reference string) bool
}

// Pipeline runs one scan end to end: paginate listings, capture the
// selection manifest per page, retrieve and parse documents, and keep
// the server-side selection clean between pages. One pipeline drives one
// browser session; at most one scan per session.
type Pipeline struct {
	session   Driver
	stream    CaptureStream
	scanner   *Scanner
	capturer  *Capturer
	lifecycle *Lifecycle
	governor  Governor
	reporter  TrafficReporter
	config    common.PortalConfig
	endpoints Endpoints
	pParam    string
	known     KnownSet
	logger    arbor.ILogger
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(
	session Driver,
	stream CaptureStream,
	scanner *Scanner,
	capturer *Capturer,
	lifecycle *Lifecycle,
	governor Governor,
	reporter TrafficReporter,
	config common.PortalConfig,
	endpoints Endpoints,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		session:   session,
		stream:    stream,
		scanner:   scanner,
		capturer:  capturer,
		lifecycle: lifecycle,
		governor:  governor,
		reporter:  reporter,
		config:    config,
		endpoints: endpoints,
		pParam:    ExtractPParam(config.SearchURL),
		logger:    logger,
	}
}

// SkipKnown makes the pipeline skip references the given set already
// holds, so repeat runs of the same search do not re-download.
func (p *Pipeline) SkipKnown(known KnownSet) {
	p.known = known
}

// Run executes the scan and returns the report plus every document that
// survived parsing and deduplication.
func (p *Pipeline) Run(ctx context.Context) (*models.ScanReport, []models.ParsedDocument, error) {
	scan := models.ScanContext{
		ScanID:      uuid.New().String(),
		SearchURL:   p.config.SearchURL,
		Keyword:     ExtractKeyword(p.config.SearchURL),
		BaseURL:     p.endpoints.Base,
		APIEndpoint: p.endpoints.FetchURL,
		StartedAt:   time.Now(),
	}

	report := &models.ScanReport{
		ScanID:    scan.ScanID,
		Keyword:   scan.Keyword,
		SearchURL: scan.SearchURL,
		StartedAt: scan.StartedAt,
	}

	// The first navigation is retried: nothing can proceed without the
	// results page, unlike later pages which are skippable.
	var html string
	err := WithRetry(ctx, DefaultRetryConfig(), func(ctx context.Context) error {
		var navErr error
		html, navErr = p.navigateTo(ctx, scan.SearchURL)
		return navErr
	})
	if err != nil {
		return report, nil, err
	}

	scan.TotalResults = p.scanner.TotalResults(html)
	scan.TotalPages = TotalPages(scan.TotalResults, p.config.FirstPageSize, p.config.PageSize, p.config.MaxDocuments)
	if p.config.MaxPages > 0 && scan.TotalPages > p.config.MaxPages {
		scan.TotalPages = p.config.MaxPages
	}
	report.TotalResults = scan.TotalResults
	p.logger.Info().
		Str("scan_id", scan.ScanID).
		Str("keyword", scan.Keyword).
		Int("total_results", scan.TotalResults).
		Int("pages", scan.TotalPages).
		Msg("Scan starting")

	seen := make(map[string]bool)
	var collected []models.ParsedDocument

	for page := 1; page <= scan.TotalPages; page++ {
		if page > 1 {
			pageURL, err := BuildPageURL(scan.SearchURL, page, p.config.FirstPageSize, p.config.PageSize, p.config.PageOffset)
			if err != nil {
				report.Errors = append(report.Errors, pageError(page, "paginate", err))
				continue
			}
			html, err = p.navigateTo(ctx, pageURL)
			if err != nil {
				p.logger.Warn().Err(err).Int("page", page).Msg("Page navigation failed, skipping")
				report.Errors = append(report.Errors, pageError(page, "navigate", err))
				continue
			}
		}
		report.PagesVisited++

		descriptors := p.capturePage(ctx, html, page, report)
		report.Captured += len(descriptors)

		if len(descriptors) == 0 {
			// An item-less page means the result listing ran out early.
			// Clear whatever the trigger may have selected, then stop.
			result := p.lifecycle.ProcessPage(ctx, page, nil)
			report.Errors = append(report.Errors, result.Errors...)
			p.logger.Info().Int("page", page).Msg("Page reported no items, ending pagination")
			break
		}

		var fresh []models.DocumentDescriptor
		for _, d := range descriptors {
			if seen[d.Reference] {
				report.Deduplicated++
				continue
			}
			if p.known != nil && p.known.Has(d.Reference) {
				report.Deduplicated++
				continue
			}
			seen[d.Reference] = true
			fresh = append(fresh, d)
		}

		if remaining := p.config.MaxDocuments - len(collected); remaining >= 0 && len(fresh) > remaining {
			fresh = fresh[:remaining]
		}

		// The selection is cleared inside ProcessPage even when fresh is
		// empty; every visited page must leave the server state clean.
		result := p.lifecycle.ProcessPage(ctx, page, fresh)
		report.FallbackDocs += result.FallbackCount
		report.Errors = append(report.Errors, result.Errors...)

		for _, doc := range result.Documents {
			collected = append(collected, doc)
			report.Retrieved++
		}

		if len(collected) >= p.config.MaxDocuments {
			p.logger.Info().Int("documents", len(collected)).Msg("Document cap reached, stopping scan")
			break
		}
	}

	collected = dedupeDocuments(collected, report)
	report.Parsed = len(collected)
	if len(report.Errors) > maxReportedErrors {
		report.Errors = report.Errors[:maxReportedErrors]
	}
	report.FinishedAt = time.Now()
	report.DurationSecond = report.FinishedAt.Sub(report.StartedAt).Seconds()
	if p.reporter != nil {
		report.Traffic = p.reporter.Stats()
	}

	p.logger.Info().
		Str("scan_id", scan.ScanID).
		Int("retrieved", report.Retrieved).
		Int("parsed", report.Parsed).
		Int("errors", len(report.Errors)).
		Msg("Scan finished")

	return report, collected, nil
}

// capturePage obtains descriptors for one page, preferring the network
// capture and degrading to listing metadata when capture fails outright.
func (p *Pipeline) capturePage(ctx context.Context, html string, page int, report *models.ScanReport) []models.DocumentDescriptor {
	manifest, err := p.capturer.CaptureSelection(ctx, p.session, p.stream)
	if err == nil {
		return p.enrichFromListing(html, page, manifest.Documents)
	}
	if !errors.Is(err, ErrCaptureNotFound) {
		report.Errors = append(report.Errors, pageError(page, "capture", err))
		return nil
	}

	p.logger.Warn().Int("page", page).Msg("Manifest capture failed, deriving descriptors from listing metadata")
	batch, scanErr := p.scanner.ScanPage(html, page)
	if scanErr != nil {
		report.Errors = append(report.Errors, pageError(page, "scan", scanErr))
		return nil
	}
	cacheType := strings.TrimSuffix(p.config.NamespacePrefix, "/")
	return p.scanner.Descriptors(batch, cacheType, p.pParam)
}

// enrichFromListing fills descriptor titles missing from the captured
// manifest with the display metadata scraped from the same page. The
// portal omits titles from some manifest entries; the listing always
// shows them.
func (p *Pipeline) enrichFromListing(html string, page int, docs []models.DocumentDescriptor) []models.DocumentDescriptor {
	needed := false
	for _, d := range docs {
		if d.Title == "" {
			needed = true
			break
		}
	}
	if !needed {
		return docs
	}

	batch, err := p.scanner.ScanPage(html, page)
	if err != nil {
		return docs
	}
	titles := make(map[string]string, len(batch.Items))
	for _, item := range batch.Items {
		titles[item.Reference] = item.Title
	}
	for i := range docs {
		if docs[i].Title == "" {
			docs[i].Title = titles[docs[i].Reference]
		}
	}
	return docs
}

func (p *Pipeline) navigateTo(ctx context.Context, url string) (string, error) {
	if err := p.governor.WaitIfNeeded(ctx, models.RequestKindPage); err != nil {
		return "", err
	}

	start := time.Now()
	err := p.session.Navigate(ctx, url, p.config.SettleDelayDuration())
	p.governor.Observe(models.RequestRecord{
		Kind:    models.RequestKindPage,
		URL:     url,
		Method:  "GET",
		Latency: time.Since(start),
		Success: err == nil,
		At:      start,
	})
	if err != nil {
		return "", err
	}
	return p.session.HTML(ctx)
}

// dedupeDocuments drops later occurrences of a reference. Documents
// without a reference are kept keyed by title.
func dedupeDocuments(docs []models.ParsedDocument, report *models.ScanReport) []models.ParsedDocument {
	seen := make(map[string]bool)
	out := docs[:0]
	for _, doc := range docs {
		key := doc.DescriptorRef
		if key == "" {
			key = "title:" + doc.Title
		}
		if seen[key] {
			report.Deduplicated++
			continue
		}
		seen[key] = true
		out = append(out, doc)
	}
	return out
}

func pageError(page int, stage string, err error) models.ScanError {
	return models.ScanError{
		Stage:   stage,
		Page:    page,
		Message: err.Error(),
		At:      time.Now(),
	}
}
