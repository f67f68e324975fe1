package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/knoguchi/rerank/internal/projection"
)

// Fuser sends projected candidates to a Reranker and maps the returned
// positions back onto the candidates.
type Fuser struct {
	reranker Reranker
	logger   *slog.Logger
}

// NewFuser creates a fuser over the given reranker.
func NewFuser(r Reranker, logger *slog.Logger) *Fuser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuser{reranker: r, logger: logger}
}

// Reranker returns the underlying reranking service.
func (f *Fuser) Reranker() Reranker {
	return f.reranker
}

// RerankAndFuse reranks entries for query and returns at most topK fused
// results in the service's order. topK larger than len(entries) is clamped.
// With no entries the service is not called. Any result that cannot be
// resolved to an entry fails the whole call.
func (f *Fuser) RerankAndFuse(ctx context.Context, query string, entries []projection.Entry, topK int) ([]FusedResult, error) {
	if topK <= 0 {
		return nil, &Error{Op: "RerankAndFuse", Kind: ErrInvalidTopK, Err: fmt.Errorf("got %d", topK)}
	}
	if len(entries) == 0 {
		return []FusedResult{}, nil
	}
	if topK > len(entries) {
		topK = len(entries)
	}

	start := time.Now()
	f.logger.Info("reranking_started",
		slog.String("query", truncate(query, 100)),
		slog.Int("candidate_count", len(entries)),
		slog.Int("top_k", topK),
		slog.String("model", f.reranker.ModelName()))

	results, err := f.reranker.Rerank(ctx, query, projection.Texts(entries), topK)
	if err != nil {
		f.logger.Warn("reranking_failed",
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	fused, err := fuse(entries, results, topK)
	if err != nil {
		f.logger.Warn("reranking_reconciliation_failed",
			slog.String("error", err.Error()),
			slog.Int("result_count", len(results)))
		return nil, err
	}

	f.logger.Info("reranking_completed",
		slog.Int("result_count", len(fused)),
		slog.String("model", f.reranker.ModelName()),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return fused, nil
}

// fuse validates results against entries and builds the ranked output.
func fuse(entries []projection.Entry, results []Result, topK int) ([]FusedResult, error) {
	if len(results) > topK {
		return nil, ServiceError("RerankAndFuse",
			fmt.Errorf("service returned %d results, requested at most %d", len(results), topK))
	}

	fused := make([]FusedResult, len(results))
	seen := make(map[int]struct{}, len(results))
	for pos, r := range results {
		if r.Index < 0 || r.Index >= len(entries) {
			return nil, &Error{
				Op:   "RerankAndFuse",
				Kind: ErrReconciliation,
				Err:  fmt.Errorf("result %d has index %d outside [0, %d)", pos, r.Index, len(entries)),
			}
		}
		if _, dup := seen[r.Index]; dup {
			return nil, &Error{
				Op:   "RerankAndFuse",
				Kind: ErrReconciliation,
				Err:  fmt.Errorf("result %d repeats index %d", pos, r.Index),
			}
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return nil, ServiceError("RerankAndFuse", fmt.Errorf("result %d has non-finite score", pos))
		}
		seen[r.Index] = struct{}{}

		entry := entries[r.Index]
		fused[pos] = FusedResult{
			Document:      entry.Document,
			Text:          entry.Text,
			OriginalScore: entry.Document.Score,
			RerankScore:   r.Score,
			Rank:          pos + 1,
		}
	}

	return fused, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i] + "..."
		}
		runes++
	}
	return s
}
