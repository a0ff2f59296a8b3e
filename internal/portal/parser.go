package portal

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

// containerMarker opens each rendered document in a consolidated
// response. The trailing space inside the class attribute is how the
// portal actually emits it.
const containerMarker = `<div class="multidocs_item ">`

var (
	looseContainerPattern = regexp.MustCompile(`<div[^>]*class="[^"]*multidocs_item[^"]*"[^>]*>`)
	brPattern             = regexp.MustCompile(`(?i)<br\s*/?>`)
	documentIDPattern     = regexp.MustCompile(`rft_dat=document_id:([^"&]+)`)
	authorPrefixPattern   = regexp.MustCompile(`^Author:\s*`)
)

// ResponseParser splits a consolidated HTML response into documents and
// extracts their fields.
type ResponseParser struct {
	endpoints Endpoints
	pParam    string
	converter *md.Converter
	logger    arbor.ILogger
}

// NewResponseParser builds a parser that resolves document URLs against
// the given endpoints.
func NewResponseParser(endpoints Endpoints, pParam string, logger arbor.ILogger) *ResponseParser {
	return &ResponseParser{
		endpoints: endpoints,
		pParam:    pParam,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// Parse extracts every document from a consolidated response. Segments
// without a usable title are discarded; an empty result with a non-empty
// response means the response held no parseable documents.
func (p *ResponseParser) Parse(rawHTML string) ([]models.ParsedDocument, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return nil, fmt.Errorf("empty response body")
	}

	segments := splitDocuments(rawHTML)
	p.logger.Debug().Int("segments", len(segments)).Msg("Split consolidated response")

	docs := make([]models.ParsedDocument, 0, len(segments))
	for _, segment := range segments {
		doc, ok := p.parseSegment(segment)
		if !ok {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// splitDocuments cuts the response into per-document segments. The
// lookahead strategy splits at each container marker without consuming
// the next one, tolerating arbitrary nesting inside a document. When the
// exact marker is absent a looser class match is tried, and failing that
// the whole response is one segment. The result is never empty.
func splitDocuments(rawHTML string) []string {
	if strings.Contains(rawHTML, containerMarker) {
		parts := strings.Split(rawHTML, containerMarker)
		// parts[0] is the preamble before the first document.
		if len(parts) > 1 {
			return parts[1:]
		}
	}

	if locs := looseContainerPattern.FindAllStringIndex(rawHTML, -1); len(locs) > 0 {
		segments := make([]string, 0, len(locs))
		for i, loc := range locs {
			end := len(rawHTML)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			segments = append(segments, rawHTML[loc[1]:end])
		}
		return segments
	}

	return []string{rawHTML}
}

// parseSegment extracts one document's fields. Title falls back from the
// dedicated heading class to any top-level heading; a segment without a
// plausible title is not a document.
func (p *ResponseParser) parseSegment(segment string) (models.ParsedDocument, bool) {
	// Preserve line structure before tag stripping.
	withBreaks := brPattern.ReplaceAllString(segment, "\n")

	root, err := goquery.NewDocumentFromReader(strings.NewReader(withBreaks))
	if err != nil {
		return models.ParsedDocument{}, false
	}

	doc := models.ParsedDocument{}

	doc.Title = strings.TrimSpace(root.Find("h1.document-view__title").First().Text())
	if doc.Title == "" {
		doc.Title = strings.TrimSpace(root.Find("h1, h2, h3").First().Text())
	}
	if len(doc.Title) < 3 || strings.HasPrefix(doc.Title, "<") {
		return models.ParsedDocument{}, false
	}

	doc.Date = strings.TrimSpace(root.Find("span.display-date").First().Text())
	if doc.Date != "" {
		if parsed, err := dateparse.ParseAny(doc.Date); err == nil {
			doc.PublishedAt = parsed
		}
	}

	doc.Source = strings.TrimSpace(root.Find("span.source").First().Text())
	doc.Author = authorPrefixPattern.ReplaceAllString(strings.TrimSpace(root.Find("span.author").First().Text()), "")

	if match := documentIDPattern.FindStringSubmatch(segment); match != nil {
		if ref, err := url.PathUnescape(match[1]); err == nil {
			doc.DescriptorRef = ref
			doc.SourceURL = p.endpoints.DocumentURL(p.pParam, ref)
		}
	}

	body := root.Find("div.document-view__body").First()
	if body.Length() > 0 {
		doc.BodyText = strings.TrimSpace(body.Text())
		if html, err := body.Html(); err == nil {
			if markdown, err := p.converter.ConvertString(html); err == nil {
				doc.BodyMarkdown = strings.TrimSpace(markdown)
			}
		}
	}
	doc.CountWords()

	return doc, true
}

// ParseDocumentView extracts one document from a standalone view page,
// used by the per-document fallback path. Field fallbacks match Parse.
func (p *ResponseParser) ParseDocumentView(rawHTML, reference string) (models.ParsedDocument, error) {
	doc, ok := p.parseSegment(rawHTML)
	if !ok {
		return models.ParsedDocument{}, fmt.Errorf("no document found in view page")
	}
	if doc.DescriptorRef == "" {
		doc.DescriptorRef = reference
		doc.SourceURL = p.endpoints.DocumentURL(p.pParam, reference)
	}
	return doc, nil
}
