package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// Governor paces and records outbound requests. The concrete
// implementation lives in the traffic package.
type Governor interface {
	WaitIfNeeded(ctx context.Context, kind models.RequestKind) error
	Observe(record models.RequestRecord)
}

// RetrievalClient replays a captured manifest against the portal's
// two-phase protocol: register the selection, then fetch the
// consolidated HTML rendering.
type RetrievalClient struct {
	client    *http.Client
	endpoints Endpoints
	pParam    string
	batchSize int
	governor  Governor
	logger    arbor.ILogger
}

// NewRetrievalClient builds a client over an authenticated HTTP client.
func NewRetrievalClient(client *http.Client, endpoints Endpoints, pParam string, batchSize int, governor Governor, logger arbor.ILogger) *RetrievalClient {
	if batchSize <= 0 || batchSize > 20 {
		batchSize = 20
	}
	return &RetrievalClient{
		client:    client,
		endpoints: endpoints,
		pParam:    pParam,
		batchSize: batchSize,
		governor:  governor,
		logger:    logger,
	}
}

// BatchSize reports how many documents one fetch may cover.
func (r *RetrievalClient) BatchSize() int {
	return r.batchSize
}

// Retrieve registers the given descriptors and fetches their rendering.
// The returned string is the raw HTML response body.
func (r *RetrievalClient) Retrieve(ctx context.Context, docs []models.DocumentDescriptor) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("%w: empty descriptor batch", ErrRetrievalFailed)
	}
	if len(docs) > r.batchSize {
		docs = docs[:r.batchSize]
	}

	if err := r.register(ctx, docs); err != nil {
		return "", err
	}
	return r.fetch(ctx)
}

// register POSTs the re-serialized manifest to the selection endpoint.
// Only the status matters; the body is discarded.
func (r *RetrievalClient) register(ctx context.Context, docs []models.DocumentDescriptor) error {
	serialized, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("%w: cannot serialize manifest: %v", ErrRetrievalFailed, err)
	}

	form := manifestMarker + url.QueryEscape(string(serialized)) + "&p=" + url.QueryEscape(r.pParam)

	status, _, err := r.post(ctx, r.endpoints.RegisterURL, form, "application/json, text/javascript, */*; q=0.01", models.RequestKindAPI)
	if err != nil {
		return fmt.Errorf("%w: register call: %v", ErrRetrievalFailed, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: register returned status %d", ErrRetrievalFailed, status)
	}

	r.logger.Debug().Int("descriptors", len(docs)).Msg("Selection registered")
	return nil
}

// fetch POSTs the consolidated-rendering request and returns the HTML.
func (r *RetrievalClient) fetch(ctx context.Context) (string, error) {
	renderParams := strings.Join([]string{
		"action=pdf",
		"format=html",
		"pdf_enabled=false",
		"load_pager=false",
		"maxresults=" + strconv.Itoa(r.batchSize),
	}, "&")

	form := strings.Join([]string{
		"p=" + url.QueryEscape(r.pParam),
		"action=download",
		"pdf_path=multidocs",
		"maxresults=" + strconv.Itoa(r.batchSize),
		"pdf_params=" + url.QueryEscape(renderParams),
		"zustat_category_override=co_sc_pdf_download",
	}, "&")

	status, body, err := r.post(ctx, r.endpoints.FetchURL, form, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", models.RequestKindDownload)
	if err != nil {
		return "", fmt.Errorf("%w: fetch call: %v", ErrRetrievalFailed, err)
	}
	if status == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: fetch throttled with status 429", ErrRetrievalFailed)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: fetch returned status %d", ErrRetrievalFailed, status)
	}

	// A binary document means the server ignored the HTML format request.
	if strings.HasPrefix(body, "%PDF") {
		return "", ErrBinaryResponse
	}

	r.logger.Debug().Int("bytes", len(body)).Msg("Fetched consolidated rendering")
	return body, nil
}

// ClearSelection removes every registered document from the server-side
// selection. Called once per page regardless of retrieval outcome.
func (r *RetrievalClient) ClearSelection(ctx context.Context) error {
	form := "docrefs=ALL&p=" + url.QueryEscape(r.pParam)

	status, _, err := r.post(ctx, r.endpoints.RemoveURL, form, "application/json, text/javascript, */*; q=0.01", models.RequestKindAPI)
	if err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("clear selection returned status %d", status)
	}

	r.logger.Debug().Msg("Server-side selection cleared")
	return nil
}

func (r *RetrievalClient) post(ctx context.Context, endpoint, form, accept string, kind models.RequestKind) (int, string, error) {
	if err := r.governor.WaitIfNeeded(ctx, kind); err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	start := time.Now()
	resp, err := r.client.Do(req)
	latency := time.Since(start)

	record := models.RequestRecord{
		Kind:    kind,
		URL:     endpoint,
		Method:  http.MethodPost,
		Latency: latency,
		At:      start,
	}

	if err != nil {
		r.governor.Observe(record)
		return 0, "", err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	record.StatusCode = resp.StatusCode
	record.Success = resp.StatusCode == http.StatusOK && readErr == nil
	r.governor.Observe(record)

	if readErr != nil {
		return resp.StatusCode, "", readErr
	}
	return resp.StatusCode, string(body), nil
}
