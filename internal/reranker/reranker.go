// Package reranker provides the precision stage of retrieval: a reranking
// service reorders projected candidates and the results are fused with their
// original retrieval scores.
//
// # Trade-offs
//
// Reranking is applied to a bounded candidate pool only.
//
//   - Latency: one extra network call per query, growing with pool size
//   - Quality: cross-encoders see query and document together, so they
//     separate candidates that lexical scoring ranks about equally
//   - Cost: hosted rerankers bill per document, so the pool size is the
//     main cost knob
package reranker

import (
	"context"

	"github.com/knoguchi/rerank/internal/search"
)

// DefaultTopK is the number of fused results returned when none is configured.
const DefaultTopK = 20

// Result is one entry of a reranking service response.
type Result struct {
	Index int     // position in the texts passed to Rerank
	Score float64 // model-defined relevance, higher is better
}

// Reranker defines the capability the fuser needs from a reranking service.
type Reranker interface {
	// Rerank scores texts against query and returns at most topK results in
	// descending relevance order. Implementations return errors wrapping
	// ErrRerankUnavailable or ErrRerankService.
	Rerank(ctx context.Context, query string, texts []string, topK int) ([]Result, error)

	// ModelName returns the model identifier for logging and run artifacts.
	ModelName() string
}

// FusedResult is a reranked document carrying both scores.
type FusedResult struct {
	Document      search.Document
	Text          string // text the reranker scored
	OriginalScore float64
	RerankScore   float64
	Rank          int // 1-based, dense
}
