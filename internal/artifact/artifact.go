// Package artifact defines the per-query Run record and its JSON file form.
//
// A Run holds the retrieval pool as the backend returned it and the reranked
// list as fused from the rerank service. Reading a written Run back yields the
// same ranked list.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/knoguchi/rerank/internal/reranker"
	"github.com/knoguchi/rerank/internal/search"
)

// DefaultPath is where the CLI writes a run when no path is given.
const DefaultPath = "reranking_results.json"

// DefaultExcerptLength is the number of characters kept from each result text.
const DefaultExcerptLength = 200

// Candidate is one document of the retrieval pool, in backend order.
type Candidate struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Source map[string]any `json:"source,omitempty"`
}

// Result is one reranked document.
type Result struct {
	Rank          int            `json:"rank"`
	ID            string         `json:"id"`
	OriginalScore float64        `json:"original_score"`
	RerankScore   float64        `json:"rerank_score"`
	Excerpt       string         `json:"excerpt,omitempty"`
	Source        map[string]any `json:"source,omitempty"`
}

// Run is the record of one retrieve-then-rerank query.
type Run struct {
	ID              uuid.UUID   `json:"id"`
	Query           string      `json:"query"`
	PoolSize        int         `json:"pool_size"`
	TopK            int         `json:"top_k"`
	Backend         string      `json:"backend,omitempty"`
	RerankModel     string      `json:"rerank_model,omitempty"`
	CandidateCount  int         `json:"candidate_count"`
	CreatedAt       time.Time   `json:"created_at"`
	OriginalResults []Candidate `json:"original_results"`
	RerankedResults []Result    `json:"reranked_results"`
}

// Options controls how a Run is built from pipeline output.
type Options struct {
	ExcerptLength int
	// IncludeSource copies each document's fields into the run.
	IncludeSource bool
}

// NewRun builds a Run from the candidate pool and the fused results.
func NewRun(query string, poolSize, topK int, candidates []search.Document, fused []reranker.FusedResult, opts Options) *Run {
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = DefaultExcerptLength
	}

	run := &Run{
		ID:              uuid.New(),
		Query:           query,
		PoolSize:        poolSize,
		TopK:            topK,
		CandidateCount:  len(candidates),
		CreatedAt:       time.Now().UTC(),
		OriginalResults: make([]Candidate, len(candidates)),
		RerankedResults: make([]Result, len(fused)),
	}

	for i, doc := range candidates {
		c := Candidate{ID: doc.ID, Score: doc.Score}
		if opts.IncludeSource {
			c.Source = doc.Fields
		}
		run.OriginalResults[i] = c
	}

	for i, fr := range fused {
		r := Result{
			Rank:          fr.Rank,
			ID:            fr.Document.ID,
			OriginalScore: fr.OriginalScore,
			RerankScore:   fr.RerankScore,
			Excerpt:       Excerpt(fr.Text, opts.ExcerptLength),
		}
		if opts.IncludeSource {
			r.Source = fr.Document.Fields
		}
		run.RerankedResults[i] = r
	}

	return run
}

// Fused reconstructs the ranked list. Text holds the excerpt, not the full
// projected text.
func (r *Run) Fused() []reranker.FusedResult {
	out := make([]reranker.FusedResult, len(r.RerankedResults))
	for i, res := range r.RerankedResults {
		out[i] = reranker.FusedResult{
			Document: search.Document{
				ID:     res.ID,
				Score:  res.OriginalScore,
				Fields: res.Source,
			},
			Text:          res.Excerpt,
			OriginalScore: res.OriginalScore,
			RerankScore:   res.RerankScore,
			Rank:          res.Rank,
		}
	}
	return out
}

// Validate checks the ranking of a decoded run.
func (r *Run) Validate() error {
	if r.Query == "" {
		return errors.New("run has no query")
	}
	for i, res := range r.RerankedResults {
		if res.Rank != i+1 {
			return fmt.Errorf("result %d has rank %d", i, res.Rank)
		}
	}
	return nil
}

// Marshal encodes the run as indented JSON.
func Marshal(r *Run) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal decodes and validates a run.
func Unmarshal(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	if r.OriginalResults == nil {
		r.OriginalResults = []Candidate{}
	}
	if r.RerankedResults == nil {
		r.RerankedResults = []Result{}
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run: %w", err)
	}
	return &r, nil
}

// Write stores the run at path, replacing any existing file.
func Write(path string, r *Run) error {
	data, err := Marshal(r)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".run-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write run: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move run into place: %w", err)
	}
	return nil
}

// Read loads a run written by Write.
func Read(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	return Unmarshal(data)
}

// Excerpt returns the first n characters of s, with "..." appended when cut.
func Excerpt(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
