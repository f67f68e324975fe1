// Package search provides the candidate retrieval stage: a multi-field
// lexical query against a search backend returning a bounded candidate pool.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultPoolSize is the number of candidates retrieved when none is configured.
const DefaultPoolSize = 100

// Document is a backend record as returned by retrieval.
type Document struct {
	ID     string
	Score  float64        // backend relevance, higher is better
	Fields map[string]any // full source record
}

// Backend defines the capability the retriever needs from a search service.
type Backend interface {
	// Search runs a multi-field match of query against every indexed field
	// and returns at most size documents ordered by descending score.
	// Implementations return errors wrapping ErrBackendUnavailable or
	// ErrBackendQuery.
	Search(ctx context.Context, query string, size int) ([]Document, error)

	// Name identifies the backend in logs and run artifacts.
	Name() string
}

// Retriever issues a single query against a Backend and enforces the
// candidate set invariants.
type Retriever struct {
	backend Backend
	logger  *slog.Logger
}

// NewRetriever creates a retriever over the given backend.
func NewRetriever(backend Backend, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{backend: backend, logger: logger}
}

// Backend returns the underlying search backend.
func (r *Retriever) Backend() Backend {
	return r.backend
}

// Retrieve returns up to poolSize candidates for query. An empty result is
// not an error. Duplicate IDs returned by the backend are collapsed to their
// first (highest scoring) occurrence.
func (r *Retriever) Retrieve(ctx context.Context, query string, poolSize int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Op: "Retrieve", Kind: ErrInvalidQuery, Err: fmt.Errorf("query is empty")}
	}
	if poolSize <= 0 {
		return nil, &Error{Op: "Retrieve", Kind: ErrInvalidQuery, Err: fmt.Errorf("pool size must be positive, got %d", poolSize)}
	}

	start := time.Now()
	docs, err := r.backend.Search(ctx, query, poolSize)
	if err != nil {
		r.logger.Warn("retrieval_failed",
			slog.String("backend", r.backend.Name()),
			slog.String("query", truncate(query, 100)),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	if len(docs) > poolSize {
		docs = docs[:poolSize]
	}

	candidates := make([]Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, &Error{Op: "Retrieve", Kind: ErrBackendQuery, Err: fmt.Errorf("candidate %d has no id", i)}
		}
		if _, dup := seen[doc.ID]; dup {
			r.logger.Warn("duplicate_candidate_dropped",
				slog.String("backend", r.backend.Name()),
				slog.String("id", doc.ID))
			continue
		}
		seen[doc.ID] = struct{}{}
		candidates = append(candidates, doc)
	}

	r.logger.Info("retrieval_completed",
		slog.String("backend", r.backend.Name()),
		slog.String("query", truncate(query, 100)),
		slog.Int("pool_size", poolSize),
		slog.Int("candidate_count", len(candidates)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return candidates, nil
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
