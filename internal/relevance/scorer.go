package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// Scorer judges how relevant a document is to the scan keyword, on a
// 0 to 1 scale.
type Scorer interface {
	Score(ctx context.Context, keyword string, doc *models.ParsedDocument) (float64, string, error)
}

// NewScorer builds the configured scorer implementation.
func NewScorer(config common.RelevanceConfig, logger arbor.ILogger) (Scorer, error) {
	switch config.Provider {
	case "", "keyword":
		return &KeywordScorer{}, nil
	case "openai":
		return NewOpenAIScorer(config, logger), nil
	default:
		return nil, fmt.Errorf("unknown relevance provider %q", config.Provider)
	}
}

// KeywordScorer is the offline scorer: term frequency over title and
// body, with the title weighted heavier because listing titles are
// short and deliberate.
type KeywordScorer struct{}

// Score counts keyword term hits. A title hit alone is a strong signal.
func (s *KeywordScorer) Score(ctx context.Context, keyword string, doc *models.ParsedDocument) (float64, string, error) {
	terms := strings.Fields(strings.ToLower(keyword))
	if len(terms) == 0 {
		return 1.0, "no keyword to judge against", nil
	}

	title := strings.ToLower(doc.Title)
	body := strings.ToLower(doc.BodyText)

	score := 0.0
	var hits []string
	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += 0.6
			hits = append(hits, term+" in title")
		case strings.Contains(body, term):
			score += 0.3
			hits = append(hits, term+" in body")
		}
	}
	score /= float64(len(terms))
	if score > 1.0 {
		score = 1.0
	}

	reason := "no keyword terms found"
	if len(hits) > 0 {
		reason = strings.Join(hits, ", ")
	}
	return score, reason, nil
}

// Filter scores every document and keeps those at or above the
// threshold. Scoring failures keep the document: losing retrieved
// content to a scorer outage is worse than letting a marginal
// document through.
func Filter(ctx context.Context, scorer Scorer, keyword string, docs []models.ParsedDocument, minScore float64, logger arbor.ILogger) []models.ParsedDocument {
	kept := make([]models.ParsedDocument, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		score, reason, err := scorer.Score(ctx, keyword, doc)
		if err != nil {
			logger.Warn().Err(err).Str("title", doc.Title).Msg("Relevance scoring failed, keeping document")
			kept = append(kept, *doc)
			continue
		}
		doc.Relevance = score
		doc.RelevanceReason = reason
		if score >= minScore {
			kept = append(kept, *doc)
		} else {
			logger.Debug().Str("title", doc.Title).Float64("score", score).Msg("Document filtered as irrelevant")
		}
	}
	return kept
}
