package reranker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rerank/internal/projection"
	"github.com/knoguchi/rerank/internal/search"
)

// stubReranker returns canned results, or reverses the input when results
// is nil.
type stubReranker struct {
	results []Result
	err     error

	calls     int
	lastQuery string
	lastTexts []string
	lastTopK  int
}

func (s *stubReranker) Rerank(_ context.Context, query string, texts []string, topK int) ([]Result, error) {
	s.calls++
	s.lastQuery = query
	s.lastTexts = texts
	s.lastTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	if s.results != nil {
		return s.results, nil
	}
	out := make([]Result, 0, topK)
	for i := len(texts) - 1; i >= 0 && len(out) < topK; i-- {
		out = append(out, Result{Index: i, Score: float64(i) / float64(len(texts))})
	}
	return out, nil
}

func (s *stubReranker) ModelName() string { return "stub" }

// candidatePool returns n entries scored linearly from 95.0 down to 10.0.
func candidatePool(n int) []projection.Entry {
	entries := make([]projection.Entry, n)
	for i := range entries {
		score := 95.0
		if n > 1 {
			score = 95.0 - 85.0*float64(i)/float64(n-1)
		}
		doc := search.Document{
			ID:     fmt.Sprintf("doc-%03d", i),
			Score:  score,
			Fields: map[string]any{"full_text": fmt.Sprintf("text %d", i)},
		}
		entries[i] = projection.Entry{Document: doc, Text: fmt.Sprintf("text %d", i)}
	}
	return entries
}

func TestRerankAndFuse_OceanScenario(t *testing.T) {
	entries := candidatePool(100)
	assert.Equal(t, 95.0, entries[0].Document.Score)
	assert.Equal(t, 10.0, entries[99].Document.Score)

	order := []int{87, 3, 55, 12, 99, 0, 41, 64, 8, 23, 77, 31, 90, 16, 48, 5, 70, 36, 59, 2}
	results := make([]Result, len(order))
	for i, idx := range order {
		results[i] = Result{Index: idx, Score: 0.98 - 0.04*float64(i)}
	}
	stub := &stubReranker{results: results}

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "ocean temperature trends", entries, 20)
	require.NoError(t, err)
	require.Len(t, fused, 20)

	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, "ocean temperature trends", stub.lastQuery)
	assert.Equal(t, 20, stub.lastTopK)
	assert.Equal(t, projection.Texts(entries), stub.lastTexts)

	first := fused[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, entries[87].Document, first.Document)
	assert.Equal(t, entries[87].Document.Score, first.OriginalScore)
	assert.Equal(t, 0.98, first.RerankScore)
	assert.Equal(t, entries[87].Text, first.Text)

	for pos, fr := range fused {
		assert.Equal(t, pos+1, fr.Rank, "rank density")
		assert.Equal(t, entries[order[pos]].Document, fr.Document, "index resolution at %d", pos)
		assert.Equal(t, entries[order[pos]].Document.Score, fr.OriginalScore, "score preservation at %d", pos)
		assert.Equal(t, results[pos].Score, fr.RerankScore)
	}
}

func TestRerankAndFuse_PropagatesServiceOrder(t *testing.T) {
	// Scores out of order on purpose: the service is trusted, not re-sorted.
	stub := &stubReranker{results: []Result{
		{Index: 2, Score: 0.1},
		{Index: 0, Score: 0.9},
		{Index: 1, Score: 0.5},
	}}

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(3), 3)
	require.NoError(t, err)

	ids := []string{fused[0].Document.ID, fused[1].Document.ID, fused[2].Document.ID}
	assert.Equal(t, []string{"doc-002", "doc-000", "doc-001"}, ids)
}

func TestRerankAndFuse_OutOfRangeIndex(t *testing.T) {
	stub := &stubReranker{results: []Result{
		{Index: 4, Score: 0.99},
		{Index: 150, Score: 0.98},
		{Index: 7, Score: 0.5},
	}}

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(100), 20)
	require.Error(t, err)
	assert.Nil(t, fused)
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.Contains(t, err.Error(), "150")
}

func TestRerankAndFuse_NegativeIndex(t *testing.T) {
	stub := &stubReranker{results: []Result{{Index: -1, Score: 0.5}}}

	_, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(5), 5)
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestRerankAndFuse_RepeatedIndex(t *testing.T) {
	stub := &stubReranker{results: []Result{{Index: 1, Score: 0.9}, {Index: 1, Score: 0.8}}}

	_, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(5), 5)
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestRerankAndFuse_TooManyResults(t *testing.T) {
	stub := &stubReranker{results: []Result{{Index: 0, Score: 0.9}, {Index: 1, Score: 0.8}, {Index: 2, Score: 0.7}}}

	_, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(5), 2)
	assert.ErrorIs(t, err, ErrRerankService)
	assert.NotErrorIs(t, err, ErrReconciliation)
}

func TestRerankAndFuse_NonFiniteScore(t *testing.T) {
	stub := &stubReranker{results: []Result{{Index: 0, Score: math.NaN()}}}

	_, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(5), 5)
	assert.ErrorIs(t, err, ErrRerankService)
}

func TestRerankAndFuse_ClampsTopK(t *testing.T) {
	stub := &stubReranker{}
	entries := candidatePool(7)

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", entries, 20)
	require.NoError(t, err)

	assert.Equal(t, 7, stub.lastTopK)
	assert.Len(t, fused, len(entries))
}

func TestRerankAndFuse_EmptyEntriesSkipsService(t *testing.T) {
	stub := &stubReranker{}

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", nil, 20)
	require.NoError(t, err)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
	assert.Zero(t, stub.calls)
}

func TestRerankAndFuse_InvalidTopK(t *testing.T) {
	stub := &stubReranker{}

	_, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(3), 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
	assert.Zero(t, stub.calls)
}

func TestRerankAndFuse_PropagatesServiceErrors(t *testing.T) {
	cause := errors.New("connection reset by peer")
	stub := &stubReranker{err: Unavailable("Rerank", cause)}

	fused, err := NewFuser(stub, nil).RerankAndFuse(context.Background(), "q", candidatePool(3), 3)
	assert.Nil(t, fused)
	assert.ErrorIs(t, err, ErrRerankUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestRerankAndFuse_RandomizedInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		n := 1 + rng.Intn(60)
		topK := 1 + rng.Intn(30)
		entries := candidatePool(n)

		k := topK
		if k > n {
			k = n
		}
		perm := rng.Perm(n)[:k]
		results := make([]Result, k)
		for i, idx := range perm {
			results[i] = Result{Index: idx, Score: 1 - float64(i)/float64(k)}
		}

		fused, err := NewFuser(&stubReranker{results: results}, nil).RerankAndFuse(context.Background(), "q", entries, topK)
		require.NoError(t, err)
		require.Len(t, fused, k)

		for pos, fr := range fused {
			require.Equal(t, pos+1, fr.Rank)
			require.Equal(t, entries[perm[pos]].Document.ID, fr.Document.ID)
			require.Equal(t, entries[perm[pos]].Document.Score, fr.OriginalScore)
		}
	}
}
