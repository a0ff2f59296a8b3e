package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/browser"
	"github.com/ternarybob/colligo/internal/models"
)

// Page is the slice of browser behavior the capturer needs. The concrete
// implementation is browser.Session; tests substitute fakes.
type Page interface {
	Evaluate(ctx context.Context, expr string, out interface{}) error
	ClickSelector(ctx context.Context, selector string) error
	ForceClick(ctx context.Context, selector string) error
	ForceCheck(ctx context.Context, selector string) error
}

// CaptureStream yields intercepted request payloads. The concrete
// implementation is browser.Interceptor.
type CaptureStream interface {
	Wait(ctx context.Context, timeout, settle time.Duration) (browser.CapturedPayload, bool)
	Drain()
}

// selectAllSelectors are tried in order when looking for the page's
// "select all documents" control.
var selectAllSelectors = []string{
	"#search-hits__select-all",
	"input.search-hits__select-all",
	"input[name='select-all']",
	".search-hits__selections input[type='checkbox']",
}

// Capturer obtains the selection manifest for the current results page.
// The caller must install the capture stream's listener before invoking
// CaptureSelection: triggering first races the browser's own request and
// intermittently loses the manifest.
type Capturer struct {
	decoder        *ManifestDecoder
	captureTimeout time.Duration
	settleDelay    time.Duration
	logger         arbor.ILogger
}

// NewCapturer wires a capturer over the given decoder.
func NewCapturer(decoder *ManifestDecoder, captureTimeout, settleDelay time.Duration, logger arbor.ILogger) *Capturer {
	return &Capturer{
		decoder:        decoder,
		captureTimeout: captureTimeout,
		settleDelay:    settleDelay,
		logger:         logger,
	}
}

// CaptureSelection triggers select-all and returns the captured manifest.
// The network path is preferred; when no matching request arrives within
// the capture window, the trigger is repeated once with forced attribute
// mutation, and only after that second window expires is selection state
// read back from the rendered DOM. ErrCaptureNotFound is returned only
// when every path fails. Payloads left over from an earlier page are
// discarded before triggering.
func (c *Capturer) CaptureSelection(ctx context.Context, page Page, stream CaptureStream) (*models.CapturedManifest, error) {
	stream.Drain()

	if err := c.triggerSelectAll(ctx, page); err != nil {
		c.logger.Warn().Err(err).Msg("Select-all trigger failed on every selector, still waiting for capture")
	}

	payload, ok := stream.Wait(ctx, c.captureTimeout, c.settleDelay)
	if !ok {
		c.logger.Debug().Msg("No selection request within the capture window, re-triggering with forced mutation")
		if err := c.forceRetrigger(ctx, page); err != nil {
			c.logger.Warn().Err(err).Msg("Forced re-trigger failed on every selector")
		} else {
			payload, ok = stream.Wait(ctx, c.retryWindow(), c.settleDelay)
		}
	}

	if ok {
		docs, err := c.decoder.Decode(payload.Body)
		if err == nil && len(docs) > 0 {
			c.logger.Info().Int("descriptors", len(docs)).Msg("Captured selection manifest from network")
			return &models.CapturedManifest{
				Documents:  docs,
				Raw:        payload.Body,
				Source:     models.CaptureSourceNetwork,
				CapturedAt: payload.CapturedAt,
			}, nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("Captured payload undecodable, falling back to DOM")
		}
	}

	docs, err := c.captureFromDOM(ctx, page)
	if err != nil || len(docs) == 0 {
		return nil, ErrCaptureNotFound
	}

	c.logger.Info().Int("descriptors", len(docs)).Msg("Recovered selection from rendered DOM")
	return &models.CapturedManifest{
		Documents:  docs,
		Source:     models.CaptureSourceDOM,
		CapturedAt: time.Now(),
	}, nil
}

// triggerSelectAll works through the selector and method ladders until
// one combination lands. Direct clicks are preferred; forced property
// mutation with event dispatch is the last resort because it bypasses
// the page's own activation logic.
func (c *Capturer) triggerSelectAll(ctx context.Context, page Page) error {
	var attempts []Attempt[struct{}]
	for _, selector := range selectAllSelectors {
		sel := selector
		attempts = append(attempts,
			Attempt[struct{}]{
				Name: "click " + sel,
				Run: func(ctx context.Context) (struct{}, error) {
					return struct{}{}, page.ClickSelector(ctx, sel)
				},
			},
			Attempt[struct{}]{
				Name: "force-click " + sel,
				Run: func(ctx context.Context) (struct{}, error) {
					return struct{}{}, page.ForceClick(ctx, sel)
				},
			},
			Attempt[struct{}]{
				Name: "force-check " + sel,
				Run: func(ctx context.Context) (struct{}, error) {
					return struct{}{}, page.ForceCheck(ctx, sel)
				},
			},
		)
	}

	_, method, err := TryEach(ctx, c.logger, attempts)
	if err != nil {
		return fmt.Errorf("no select-all trigger succeeded: %w", err)
	}
	c.logger.Debug().Str("method", method).Msg("Select-all triggered")
	return nil
}

// forceRetrigger repeats the trigger with attribute mutation only. Used
// once, after a click apparently landed but no request followed.
func (c *Capturer) forceRetrigger(ctx context.Context, page Page) error {
	var attempts []Attempt[struct{}]
	for _, selector := range selectAllSelectors {
		sel := selector
		attempts = append(attempts, Attempt[struct{}]{
			Name: "force-check " + sel,
			Run: func(ctx context.Context) (struct{}, error) {
				return struct{}{}, page.ForceCheck(ctx, sel)
			},
		})
	}

	_, method, err := TryEach(ctx, c.logger, attempts)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("method", method).Msg("Select-all re-triggered")
	return nil
}

// retryWindow bounds the second capture wait to half the primary one.
func (c *Capturer) retryWindow() time.Duration {
	if half := c.captureTimeout / 2; half > 0 {
		return half
	}
	return c.captureTimeout
}

// domSelectionScript reads descriptors for checked result rows straight
// from the page. Sizes read this way are lower-confidence: the listing
// markup does not always carry them.
const domSelectionScript = `(() => {
	const out = [];
	let boxes = document.querySelectorAll('article.search-hits__hit input[type="checkbox"]:checked');
	if (boxes.length === 0) {
		boxes = document.querySelectorAll('article.search-hits__hit input[type="checkbox"]');
	}
	boxes.forEach(box => {
		const article = box.closest('article.search-hits__hit');
		if (!article) return;
		const link = article.querySelector('h3.search-hits__hit__title a');
		const href = link ? link.href : '';
		const docMatch = href.match(/doc=([^&]+)/);
		let fromHref = docMatch ? decodeURIComponent(docMatch[1]) : '';
		if (fromHref && !fromHref.startsWith('news/')) {
			fromHref = 'news/' + fromHref;
		}
		const docref = fromHref || article.dataset.docId || '';
		if (!docref) return;
		out.push({
			docref: docref,
			cache_type: article.dataset.cacheType || 'AWGLNB',
			size: parseInt(article.dataset.size || '0', 10) || 0,
			pbi: article.dataset.pbi || '',
			title: link ? link.textContent.trim() : '',
			product: article.dataset.product || 'AWGLNB'
		});
	});
	return out;
})()`

func (c *Capturer) captureFromDOM(ctx context.Context, page Page) ([]models.DocumentDescriptor, error) {
	var docs []models.DocumentDescriptor
	if err := page.Evaluate(ctx, domSelectionScript, &docs); err != nil {
		return nil, fmt.Errorf("DOM selection read failed: %w", err)
	}
	kept, _ := models.FilterNamespace(docs, c.decoder.namespacePrefix)
	return kept, nil
}
