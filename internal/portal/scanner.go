package portal

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
)

var totalHitsPattern = regexp.MustCompile(`([\d,]+)\s*Results`)

// Scanner extracts listing metadata from rendered results pages.
type Scanner struct {
	namespacePrefix string
	logger          arbor.ILogger
}

// NewScanner creates a scanner for the given document namespace.
func NewScanner(namespacePrefix string, logger arbor.ILogger) *Scanner {
	return &Scanner{
		namespacePrefix: namespacePrefix,
		logger:          logger,
	}
}

// TotalResults reads the result count from a results page.
func (s *Scanner) TotalResults(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0
	}

	text := doc.Find(".search-hits__meta--total_hits").First().Text()
	match := totalHitsPattern.FindStringSubmatch(text)
	if match == nil {
		// Some renderings put the count outside the meta div.
		match = totalHitsPattern.FindStringSubmatch(html)
	}
	if match == nil {
		return 0
	}

	total, err := strconv.Atoi(strings.ReplaceAll(match[1], ",", ""))
	if err != nil {
		return 0
	}
	return total
}

// ScanPage extracts the listing items from one results page.
func (s *Scanner) ScanPage(html string, page int) (*models.PageMetadataBatch, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse results page: %w", err)
	}

	batch := &models.PageMetadataBatch{Page: page}
	seen := make(map[string]bool)

	doc.Find("article.search-hits__hit").Each(func(_ int, hit *goquery.Selection) {
		item := s.extractItem(hit)
		if item.Reference == "" || seen[item.Reference] {
			return
		}
		seen[item.Reference] = true
		batch.Items = append(batch.Items, item)
	})

	if len(batch.Items) == 0 {
		return nil, fmt.Errorf("no listing items found on page %d", page)
	}

	s.logger.Info().Int("page", page).Int("items", len(batch.Items)).Msg("Scanned results page")
	return batch, nil
}

func (s *Scanner) extractItem(hit *goquery.Selection) models.ListingItem {
	item := models.ListingItem{}

	link := hit.Find("h3.search-hits__hit__title a").First()
	item.Title = strings.TrimSpace(link.Text())
	if href, ok := link.Attr("href"); ok {
		item.URL = href
		item.Reference = referenceFromHref(href, s.namespacePrefix)
	}

	// data-doc-id is the fallback when the href carries no doc parameter.
	if item.Reference == "" {
		if id, ok := hit.Attr("data-doc-id"); ok && id != "" {
			item.Reference = ensurePrefix(id, s.namespacePrefix)
		}
	}

	item.Date = strings.TrimSpace(hit.Find("span.display-date").First().Text())
	item.Source = strings.TrimSpace(hit.Find("span.source").First().Text())
	item.Author = strings.TrimPrefix(strings.TrimSpace(hit.Find("span.author").First().Text()), "Author: ")

	preview := hit.Find(".preview-first-paragraph").First().Text()
	preview = strings.TrimSpace(preview)
	if len(preview) > 200 {
		preview = preview[:200]
	}
	item.Preview = preview

	return item
}

// Descriptors converts listing items to manifest descriptors. Sizes are
// unknown from listing markup, so they carry zero and downstream callers
// treat them as lower-confidence.
func (s *Scanner) Descriptors(batch *models.PageMetadataBatch, cacheType, product string) []models.DocumentDescriptor {
	docs := make([]models.DocumentDescriptor, 0, len(batch.Items))
	for _, item := range batch.Items {
		docs = append(docs, models.DocumentDescriptor{
			Reference: item.Reference,
			CacheType: cacheType,
			SizeBytes: 0,
			Title:     item.Title,
			Product:   product,
		})
	}
	return docs
}

// referenceFromHref pulls the document reference out of a listing link.
func referenceFromHref(href, prefix string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if doc := parsed.Query().Get("doc"); doc != "" {
		return ensurePrefix(doc, prefix)
	}
	if docref := parsed.Query().Get("docref"); docref != "" {
		return ensurePrefix(docref, prefix)
	}
	return ""
}

func ensurePrefix(reference, prefix string) string {
	if prefix == "" || strings.HasPrefix(reference, prefix) {
		return reference
	}
	return prefix + reference
}
