package relevance

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

func TestNewScorer_ProviderSelection(t *testing.T) {
	logger := arbor.NewLogger()

	scorer, err := NewScorer(common.RelevanceConfig{Provider: "keyword"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &KeywordScorer{}, scorer)

	scorer, err = NewScorer(common.RelevanceConfig{Provider: ""}, logger)
	require.NoError(t, err)
	assert.IsType(t, &KeywordScorer{}, scorer)

	scorer, err = NewScorer(common.RelevanceConfig{Provider: "openai", OpenAIKey: "sk-test"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIScorer{}, scorer)

	_, err = NewScorer(common.RelevanceConfig{Provider: "mystery"}, logger)
	assert.Error(t, err)
}

func TestKeywordScorer_TitleHitScoresHigh(t *testing.T) {
	scorer := &KeywordScorer{}

	doc := &models.ParsedDocument{
		Title:    "Lithium prices surge on demand",
		BodyText: "Markets reacted strongly today.",
	}

	score, reason, err := scorer.Score(context.Background(), "lithium", doc)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, score, 0.001)
	assert.Contains(t, reason, "in title")
}

func TestKeywordScorer_BodyOnlyHitScoresLower(t *testing.T) {
	scorer := &KeywordScorer{}

	doc := &models.ParsedDocument{
		Title:    "Commodity roundup",
		BodyText: "Among other metals, lithium output grew.",
	}

	score, _, err := scorer.Score(context.Background(), "lithium", doc)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, score, 0.001)
}

func TestKeywordScorer_NoHitScoresZero(t *testing.T) {
	scorer := &KeywordScorer{}

	doc := &models.ParsedDocument{Title: "Weather report", BodyText: "Sunny all week."}

	score, reason, err := scorer.Score(context.Background(), "lithium", doc)
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.Equal(t, "no keyword terms found", reason)
}

func TestKeywordScorer_MultiTermAverages(t *testing.T) {
	scorer := &KeywordScorer{}

	doc := &models.ParsedDocument{
		Title:    "Iron exports climb",
		BodyText: "Ore shipments rose sharply.",
	}

	// "iron" hits the title (0.6), "ore" hits the body (0.3): mean 0.45.
	score, _, err := scorer.Score(context.Background(), "iron ore", doc)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, score, 0.001)
}

func TestFilter_ThresholdApplied(t *testing.T) {
	docs := []models.ParsedDocument{
		{Title: "Lithium boom continues", BodyText: "lithium lithium"},
		{Title: "Unrelated piece", BodyText: "nothing to see"},
	}

	kept := Filter(context.Background(), &KeywordScorer{}, "lithium", docs, 0.3, arbor.NewLogger())
	require.Len(t, kept, 1)
	assert.Equal(t, "Lithium boom continues", kept[0].Title)
	assert.Greater(t, kept[0].Relevance, 0.0)
	assert.NotEmpty(t, kept[0].RelevanceReason)
}

type failingScorer struct{}

func (s *failingScorer) Score(ctx context.Context, keyword string, doc *models.ParsedDocument) (float64, string, error) {
	return 0, "", fmt.Errorf("scorer outage")
}

func TestFilter_ScorerFailureKeepsDocument(t *testing.T) {
	docs := []models.ParsedDocument{{Title: "Anything", BodyText: "body"}}

	kept := Filter(context.Background(), &failingScorer{}, "keyword", docs, 0.9, arbor.NewLogger())
	require.Len(t, kept, 1)
}

func TestParseVerdict(t *testing.T) {
	verdict, err := parseVerdict(`{"relevant": true, "score": 0.8, "reason": "direct coverage"}`)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, verdict.Score, 0.001)
	assert.Equal(t, "direct coverage", verdict.Reason)

	// Fenced replies are tolerated.
	verdict, err = parseVerdict("```json\n{\"relevant\": false, \"score\": 0.1, \"reason\": \"passing mention\"}\n```")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, verdict.Score, 0.001)

	// Relevant verdicts without a score get full weight.
	verdict, err = parseVerdict(`{"relevant": true, "reason": "clearly about it"}`)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, verdict.Score, 0.001)

	_, err = parseVerdict("not json at all")
	assert.Error(t, err)
}
