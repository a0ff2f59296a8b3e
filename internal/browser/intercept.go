package browser

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// CapturedPayload is one intercepted request body.
type CapturedPayload struct {
	URL        string
	Body       string
	CapturedAt time.Time
}

// Interceptor watches outbound browser requests and captures bodies of
// POSTs to the portal API that contain the selection marker. It must be
// installed before the page action that triggers the request.
type Interceptor struct {
	endpoint string
	marker   string
	logger   arbor.ILogger

	mu      sync.Mutex
	ch      chan CapturedPayload
	stopped bool
}

// NewInterceptor creates an interceptor for the given API endpoint. Only
// request bodies containing marker are captured.
func NewInterceptor(endpoint, marker string, logger arbor.ILogger) *Interceptor {
	return &Interceptor{
		endpoint: endpoint,
		marker:   marker,
		logger:   logger,
		ch:       make(chan CapturedPayload, 1),
	}
}

// Install registers the network listener on the browser context. Matching
// payloads are pushed to the capture channel. The channel keeps only the
// most recent payload: when a newer matching request arrives before the
// previous one was consumed, the older one is dropped.
func (i *Interceptor) Install(browserCtx context.Context) {
	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		req, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		if req.Request.Method != "POST" {
			return
		}
		if !strings.Contains(req.Request.URL, i.endpoint) {
			return
		}

		body := postDataFromEvent(req)
		if body != "" {
			i.offer(req.Request.URL, body)
			return
		}

		// Body was not inlined on the event. Fetch it through the
		// protocol without blocking the listener goroutine.
		requestID := req.RequestID
		url := req.Request.URL
		go func() {
			var fetched string
			err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				data, err := network.GetRequestPostData(requestID).Do(ctx)
				if err != nil {
					return err
				}
				fetched = data
				return nil
			}))
			if err != nil {
				i.logger.Debug().Err(err).Str("url", url).Msg("Could not fetch request post data")
				return
			}
			i.offer(url, fetched)
		}()
	})
}

// postDataFromEvent extracts the request body carried inline on the event.
func postDataFromEvent(ev *network.EventRequestWillBeSent) string {
	if len(ev.Request.PostDataEntries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, entry := range ev.Request.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			sb.WriteString(entry.Bytes)
			continue
		}
		sb.Write(decoded)
	}
	return sb.String()
}

func (i *Interceptor) offer(url, body string) {
	if !strings.Contains(body, i.marker) {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}

	payload := CapturedPayload{URL: url, Body: body, CapturedAt: time.Now()}

	select {
	case i.ch <- payload:
	default:
		// Drop the stale payload and keep the newest.
		select {
		case <-i.ch:
		default:
		}
		select {
		case i.ch <- payload:
		default:
		}
	}

	i.logger.Debug().Str("url", url).Int("bytes", len(body)).Msg("Captured selection payload")
}

// Wait blocks until a payload arrives or the timeout elapses. A settle
// delay is applied after the first payload so that a rapid follow-up
// request can replace it before the result is read.
func (i *Interceptor) Wait(ctx context.Context, timeout, settle time.Duration) (CapturedPayload, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return CapturedPayload{}, false
	case <-timer.C:
		return CapturedPayload{}, false
	case payload := <-i.ch:
		if settle > 0 {
			settleTimer := time.NewTimer(settle)
			defer settleTimer.Stop()
			select {
			case <-ctx.Done():
			case <-settleTimer.C:
			case newer := <-i.ch:
				payload = newer
			}
		}
		return payload, true
	}
}

// Drain discards any payload still queued from an earlier page. A
// manifest captured before the current trigger must never satisfy the
// current capture.
func (i *Interceptor) Drain() {
	for {
		select {
		case stale := <-i.ch:
			i.logger.Debug().Str("url", stale.URL).Msg("Discarded stale selection payload")
		default:
			return
		}
	}
}

// Stop prevents further payloads from being queued.
func (i *Interceptor) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
}
