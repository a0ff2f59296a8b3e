package portal

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// Retriever is the slice of the retrieval client the lifecycle needs.
type Retriever interface {
	Retrieve(ctx context.Context, docs []models.DocumentDescriptor) (string, error)
	ClearSelection(ctx context.Context) error
	BatchSize() int
}

// Navigator drives the browser for per-document fallback fetches.
type Navigator interface {
	Navigate(ctx context.Context, url string, settle time.Duration) error
	HTML(ctx context.Context) (string, error)
}

// PageResult is what one page's retrieval produced.
type PageResult struct {
	Documents     []models.ParsedDocument
	FallbackCount int
	Errors        []models.ScanError
}

// Lifecycle owns the server-side selection state for a scan. It splits a
// page's descriptors into protocol-sized batches, degrades to
// per-document fetches when bulk retrieval fails, and always clears the
// selection before the scan advances. Clearing is a correctness
// requirement: an un-cleared selection accumulates across pages until
// the server truncates the manifest, silently corrupting later captures.
type Lifecycle struct {
	retriever   Retriever
	parser      *ResponseParser
	navigator   Navigator
	governor    Governor
	endpoints    Endpoints
	pParam       string
	settleDelay  time.Duration
	minBodyChars int
	logger       arbor.ILogger
}

// NewLifecycle wires a lifecycle controller. Documents whose bulk parse
// comes back thinner than minBodyChars are refetched through their view
// pages.
func NewLifecycle(retriever Retriever, parser *ResponseParser, navigator Navigator, governor Governor, endpoints Endpoints, pParam string, settleDelay time.Duration, minBodyChars int, logger arbor.ILogger) *Lifecycle {
	return &Lifecycle{
		retriever:    retriever,
		parser:       parser,
		navigator:    navigator,
		governor:     governor,
		endpoints:    endpoints,
		pParam:       pParam,
		settleDelay:  settleDelay,
		minBodyChars: minBodyChars,
		logger:       logger,
	}
}

// ProcessPage retrieves every descriptor captured on one page. The
// selection is cleared exactly once before returning, whatever happened.
func (l *Lifecycle) ProcessPage(ctx context.Context, page int, docs []models.DocumentDescriptor) (result PageResult) {
	defer func() {
		if err := l.retriever.ClearSelection(ctx); err != nil {
			l.logger.Warn().Err(err).Int("page", page).Msg("Failed to clear server-side selection")
			result.Errors = append(result.Errors, models.ScanError{
				Stage:   "clear",
				Page:    page,
				Message: err.Error(),
				At:      time.Now(),
			})
		}
	}()

	batchSize := l.retriever.BatchSize()
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		parsed, err := l.retrieveBatch(ctx, batch)
		if err == nil {
			kept, retry := l.partitionIncomplete(parsed, batch)
			result.Documents = append(result.Documents, kept...)
			if len(retry) > 0 {
				l.logger.Info().Int("page", page).Int("thin", len(retry)).Msg("Refetching thin documents through their view pages")
				recovered, errs := l.fallbackPerDocument(ctx, page, retry)
				result.Documents = append(result.Documents, recovered...)
				result.FallbackCount += len(recovered)
				result.Errors = append(result.Errors, errs...)
			}
			continue
		}

		l.logger.Warn().Err(err).Int("page", page).Int("batch", len(batch)).Msg("Bulk retrieval failed, degrading to per-document fetches")
		recovered, errs := l.fallbackPerDocument(ctx, page, batch)
		result.Documents = append(result.Documents, recovered...)
		result.FallbackCount += len(recovered)
		result.Errors = append(result.Errors, errs...)
	}

	return result
}

// partitionIncomplete splits a bulk parse into documents worth keeping
// and descriptors whose content came back too thin and should be
// refetched individually. Descriptors the bulk response omitted entirely
// are routed to the refetch path as well. Parsed documents that cannot
// be matched to a descriptor are kept as-is.
func (l *Lifecycle) partitionIncomplete(parsed []models.ParsedDocument, batch []models.DocumentDescriptor) (kept []models.ParsedDocument, retry []models.DocumentDescriptor) {
	byRef := make(map[string]models.DocumentDescriptor, len(batch))
	for _, descriptor := range batch {
		byRef[descriptor.Reference] = descriptor
	}

	seen := make(map[string]bool, len(parsed))
	for _, doc := range parsed {
		descriptor, known := byRef[doc.DescriptorRef]
		if known {
			seen[doc.DescriptorRef] = true
		}
		if !known || doc.Complete(l.minBodyChars) {
			kept = append(kept, doc)
			continue
		}
		retry = append(retry, descriptor)
	}

	for _, descriptor := range batch {
		if !seen[descriptor.Reference] {
			retry = append(retry, descriptor)
		}
	}
	return kept, retry
}

func (l *Lifecycle) retrieveBatch(ctx context.Context, batch []models.DocumentDescriptor) ([]models.ParsedDocument, error) {
	html, err := l.retriever.Retrieve(ctx, batch)
	if err != nil {
		return nil, err
	}
	return l.parser.Parse(html)
}

// fallbackPerDocument loads each document's view page directly. One page
// load per document, so only failed or thin bulk results are routed
// here.
func (l *Lifecycle) fallbackPerDocument(ctx context.Context, page int, batch []models.DocumentDescriptor) ([]models.ParsedDocument, []models.ScanError) {
	var recovered []models.ParsedDocument
	var errs []models.ScanError

	for _, descriptor := range batch {
		doc, err := l.fetchSingle(ctx, descriptor)
		if err != nil {
			l.logger.Warn().Err(err).Str("ref", descriptor.Reference).Msg("Per-document fallback failed, skipping")
			errs = append(errs, models.ScanError{
				Stage:   "fallback",
				Page:    page,
				Ref:     descriptor.Reference,
				Message: err.Error(),
				At:      time.Now(),
			})
			continue
		}
		recovered = append(recovered, doc)
	}

	return recovered, errs
}

func (l *Lifecycle) fetchSingle(ctx context.Context, descriptor models.DocumentDescriptor) (models.ParsedDocument, error) {
	if err := l.governor.WaitIfNeeded(ctx, models.RequestKindPage); err != nil {
		return models.ParsedDocument{}, err
	}

	viewURL := l.endpoints.DocumentURL(l.pParam, descriptor.Reference)

	start := time.Now()
	navErr := l.navigator.Navigate(ctx, viewURL, l.settleDelay)
	l.governor.Observe(models.RequestRecord{
		Kind:    models.RequestKindPage,
		URL:     viewURL,
		Method:  "GET",
		Latency: time.Since(start),
		Success: navErr == nil,
		At:      start,
	})
	if navErr != nil {
		return models.ParsedDocument{}, navErr
	}

	html, err := l.navigator.HTML(ctx)
	if err != nil {
		return models.ParsedDocument{}, err
	}

	doc, err := l.parser.ParseDocumentView(html, descriptor.Reference)
	if err != nil {
		return models.ParsedDocument{}, err
	}
	if doc.Title == "" && descriptor.Title != "" {
		doc.Title = descriptor.Title
	}
	return doc, nil
}
