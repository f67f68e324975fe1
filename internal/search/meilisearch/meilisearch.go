// Package meilisearch implements search.Backend on a Meilisearch index.
package meilisearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meilisearch/meilisearch-go"

	"github.com/knoguchi/rerank/internal/search"
)

// rankingScoreField is the hit attribute Meilisearch fills when
// ShowRankingScore is requested.
const rankingScoreField = "_rankingScore"

// Config holds connection settings for a Meilisearch backend.
type Config struct {
	Host    string
	APIKey  string
	Index   string
	IDField string // primary key attribute, default "id"
	Timeout time.Duration
}

// Backend searches every searchable attribute of one index.
type Backend struct {
	index   meilisearch.IndexManager
	idField string
	timeout time.Duration
}

// New creates a Meilisearch backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("meilisearch host is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("meilisearch index is required")
	}
	client := meilisearch.New(cfg.Host,
		meilisearch.WithAPIKey(cfg.APIKey),
		meilisearch.DisableRetries(),
	)
	return NewWithIndex(client.Index(cfg.Index), cfg.IDField, cfg.Timeout), nil
}

// NewWithIndex creates a backend over an existing index handle.
func NewWithIndex(index meilisearch.IndexManager, idField string, timeout time.Duration) *Backend {
	if idField == "" {
		idField = "id"
	}
	return &Backend{index: index, idField: idField, timeout: timeout}
}

// Name implements search.Backend.
func (b *Backend) Name() string {
	return "meilisearch"
}

// Search implements search.Backend. Meilisearch ranks by its own relevance
// rules; the normalized ranking score (0..1) becomes the document score.
func (b *Backend) Search(ctx context.Context, query string, size int) ([]search.Document, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	result, err := b.index.SearchWithContext(ctx, query, &meilisearch.SearchRequest{
		Limit:            int64(size),
		ShowRankingScore: true,
	})
	if err != nil {
		return nil, classify(err)
	}

	docs := make([]search.Document, 0, len(result.Hits))
	for i, hit := range result.Hits {
		fields, err := decodeHit(hit)
		if err != nil {
			return nil, search.Unavailable("Search", fmt.Errorf("failed to decode hit %d: %w", i, err))
		}

		id := idString(fields[b.idField])
		if id == "" {
			return nil, search.QueryRejected("Search", fmt.Errorf("hit %d has no %q field", i, b.idField))
		}

		score, _ := fields[rankingScoreField].(float64)
		delete(fields, rankingScoreField)

		docs = append(docs, search.Document{
			ID:     id,
			Score:  score,
			Fields: fields,
		})
	}

	return docs, nil
}

// decodeHit normalizes a hit into a plain map regardless of how the client
// library represents it.
func decodeHit(hit any) (map[string]any, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

func classify(err error) error {
	var meiliErr *meilisearch.Error
	if errors.As(err, &meiliErr) && meiliErr.StatusCode >= 300 {
		return search.FromStatus("Search", meiliErr.StatusCode, err)
	}
	return search.Unavailable("Search", err)
}

var _ search.Backend = (*Backend)(nil)
