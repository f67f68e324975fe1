package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/knoguchi/rerank/internal/llm"
)

// maxPromptChars bounds each document in the scoring prompt.
const maxPromptChars = 500

// LLMReranker uses an LLM to score query-document pairs. The model sees the
// query and every candidate together, approximating a cross-encoder.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

// LLMRerankerOption is a functional option for configuring LLMReranker.
type LLMRerankerOption func(*LLMReranker)

// WithModel sets the model to use for reranking.
func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) {
		r.model = model
	}
}

// NewLLMReranker creates a new LLM-based reranker.
func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{
		llmClient: llmClient,
		model:     llm.DefaultModel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// ModelName implements Reranker.
func (r *LLMReranker) ModelName() string {
	return r.model
}

type relevanceScore struct {
	DocIndex *int     `json:"doc_index"`
	Score    *float64 `json:"score"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank asks the LLM for a relevance score per text and returns the topK
// best in descending score order. Ties keep prompt order.
func (r *LLMReranker) Rerank(ctx context.Context, query string, texts []string, topK int) ([]Result, error) {
	if len(texts) == 0 {
		return []Result{}, nil
	}

	response, err := r.llmClient.Generate(ctx, buildRerankPrompt(query, texts), llm.GenerateOptions{
		Model:       r.model,
		Temperature: 0.0,
		MaxTokens:   64 + 24*len(texts),
		JSON:        true,
	})
	if err != nil {
		return nil, classifyLLMError(err)
	}

	results, err := parseRerankResponse(response)
	if err != nil {
		return nil, ServiceError("LLMReranker.Rerank", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func buildRerankPrompt(query string, texts []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments to score:\n")
	for i, text := range texts {
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, truncate(text, maxPromptChars))
	}

	sb.WriteString(`Score every document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Irrelevant documents score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.`)

	return sb.String()
}

// parseRerankResponse extracts scores from the LLM output. Indices are passed
// through untouched; range checks happen during fusion.
func parseRerankResponse(response string) ([]Result, error) {
	response = stripCodeFence(strings.TrimSpace(response))

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}
	if parsed.Scores == nil {
		return nil, fmt.Errorf("rerank response has no scores")
	}

	results := make([]Result, 0, len(parsed.Scores))
	for i, s := range parsed.Scores {
		if s.DocIndex == nil || s.Score == nil {
			return nil, fmt.Errorf("score %d is missing doc_index or score", i)
		}
		score := *s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		results = append(results, Result{Index: *s.DocIndex, Score: score})
	}

	return results, nil
}

func stripCodeFence(s string) string {
	if idx := strings.Index(s, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	} else if idx := strings.Index(s, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(s[start:], "```"); end != -1 {
			return strings.TrimSpace(s[start : start+end])
		}
	}
	return s
}

func classifyLLMError(err error) error {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, llm.ErrMalformedResponse):
		return ServiceError("LLMReranker.Rerank", err)
	case errors.As(err, &apiErr):
		return FromStatus("LLMReranker.Rerank", apiErr.StatusCode, err)
	default:
		return Unavailable("LLMReranker.Rerank", err)
	}
}

// Ensure LLMReranker implements Reranker interface.
var _ Reranker = (*LLMReranker)(nil)
