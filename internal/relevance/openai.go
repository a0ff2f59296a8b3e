package relevance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// OpenAIScorer asks a chat model whether a document is genuinely about
// the keyword rather than mentioning it in passing.
type OpenAIScorer struct {
	client *openai.Client
	model  string
	logger arbor.ILogger
}

// NewOpenAIScorer builds a scorer over the OpenAI chat API.
func NewOpenAIScorer(config common.RelevanceConfig, logger arbor.ILogger) *OpenAIScorer {
	model := config.OpenAIModel
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIScorer{
		client: openai.NewClient(config.OpenAIKey),
		model:  model,
		logger: logger,
	}
}

type relevanceVerdict struct {
	Relevant bool    `json:"relevant"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Score sends title plus a body excerpt and expects a JSON verdict.
func (s *OpenAIScorer) Score(ctx context.Context, keyword string, doc *models.ParsedDocument) (float64, string, error) {
	excerpt := doc.BodyText
	if len(excerpt) > 1200 {
		excerpt = excerpt[:1200]
	}

	prompt := fmt.Sprintf(`Judge whether this article is relevant to the search keyword %q.
Relevant means the article substantively discusses the keyword, its variants, or directly related events, not a passing mention.

Title: %s
Excerpt: %s

Reply with JSON only: {"relevant": true/false, "score": 0.0-1.0, "reason": "short reason"}`, keyword, doc.Title, excerpt)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return 0, "", fmt.Errorf("relevance completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, "", fmt.Errorf("relevance completion returned no choices")
	}

	verdict, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return 0, "", err
	}
	return verdict.Score, verdict.Reason, nil
}

// parseVerdict tolerates fenced code blocks around the JSON reply.
func parseVerdict(content string) (relevanceVerdict, error) {
	cleaned := strings.TrimSpace(content)
	if idx := strings.Index(cleaned, "{"); idx > 0 {
		cleaned = cleaned[idx:]
	}
	if idx := strings.LastIndex(cleaned, "}"); idx >= 0 {
		cleaned = cleaned[:idx+1]
	}

	var verdict relevanceVerdict
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return relevanceVerdict{}, fmt.Errorf("unparseable relevance verdict: %w", err)
	}
	if verdict.Score == 0 && verdict.Relevant {
		verdict.Score = 1.0
	}
	return verdict, nil
}
