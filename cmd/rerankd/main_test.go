package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/auth"
	"github.com/knoguchi/rerank/internal/config"
	"github.com/knoguchi/rerank/internal/reranker"
	"github.com/knoguchi/rerank/internal/reranker/bedrock"
	"github.com/knoguchi/rerank/internal/reranker/cohere"
	"github.com/knoguchi/rerank/internal/search"
	"github.com/knoguchi/rerank/internal/search/meilisearch"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(strings.NewReader(stdin), &stdout, &stderr)
	cmd := a.rootCmd()
	cmd.SetArgs(append(args, "--color", "never"))
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{"DATABASE_URL", "API_KEYS", "JWT_SECRET", "RERANK_API_KEY", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"usage", &usageError{err: errors.New("bad flag")}, 2},
		{"invalid request", search.ErrInvalidQuery, 2},
		{"backend unavailable", search.Unavailable("Search", errors.New("refused")), 3},
		{"backend query", search.QueryRejected("Search", errors.New("parse")), 4},
		{"rerank unavailable", reranker.Unavailable("Rerank", errors.New("timeout")), 5},
		{"rerank service", reranker.ServiceError("Rerank", errors.New("400")), 6},
		{"reconciliation", reranker.ErrReconciliation, 7},
		{"canceled", context.Canceled, 130},
		{"other", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestPromptQuery(t *testing.T) {
	var out bytes.Buffer
	q, err := promptQuery(strings.NewReader("  ocean temperature trends \n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "ocean temperature trends", q)
	assert.Equal(t, queryPrompt, out.String())

	q, err = promptQuery(strings.NewReader("no newline"), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "no newline", q)

	_, err = promptQuery(strings.NewReader("\n"), io.Discard)
	var ue *usageError
	assert.ErrorAs(t, err, &ue)
}

func TestTokenCommand(t *testing.T) {
	isolate(t)
	t.Setenv("JWT_SECRET", "test-secret")

	stdout, _, err := execute(t, "", "token", "--subject", "dashboard", "--expiry", "1h")
	require.NoError(t, err)

	manager := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	claims, err := manager.ValidateToken(strings.TrimSpace(stdout))
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "", "token", "--subject", "dashboard")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestShowCommand(t *testing.T) {
	isolate(t)

	run := artifact.NewRun("ocean temperature trends", 3, 2,
		[]search.Document{
			{ID: "doc-1", Score: 7.5, Fields: map[string]any{"full_text": "sea surface records"}},
			{ID: "doc-2", Score: 6.1, Fields: map[string]any{"full_text": "warming trend"}},
		},
		[]reranker.FusedResult{
			{Rank: 1, Document: search.Document{ID: "doc-2"}, OriginalScore: 6.1, RerankScore: 0.98, Text: "warming trend"},
			{Rank: 2, Document: search.Document{ID: "doc-1"}, OriginalScore: 7.5, RerankScore: 0.40, Text: "sea surface records"},
		},
		artifact.Options{ExcerptLength: artifact.DefaultExcerptLength},
	)
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, artifact.Write(path, run))

	stdout, _, err := execute(t, "", "show", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "1. doc-2")
	assert.Contains(t, stdout, "0.9800")
	assert.Less(t, strings.Index(stdout, "doc-2"), strings.Index(stdout, "doc-1"))

	stdout, _, err = execute(t, "", "show", path, "--format", "json")
	require.NoError(t, err)
	got, err := artifact.Unmarshal([]byte(stdout))
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)

	_, _, err = execute(t, "", "show", path, "--format", "yaml")
	assert.Equal(t, 2, exitCode(err))
}

// fakeStack serves a Meilisearch index and a Cohere-style rerank endpoint.
func fakeStack(t *testing.T, rerankStatus int, rerankBody string) (meili, rerank *httptest.Server) {
	t.Helper()

	meili = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/indexes/articles/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"hits": [
				{"id": "doc-1", "full_text": "sea surface records", "_rankingScore": 0.9},
				{"id": "doc-2", "title": "warming trend", "_rankingScore": 0.8},
				{"id": "doc-3", "full_text": "coral bleaching", "_rankingScore": 0.7}
			],
			"query": "ocean temperature trends",
			"processingTimeMs": 1,
			"limit": 3,
			"offset": 0,
			"estimatedTotalHits": 3
		}`)
	}))
	t.Cleanup(meili.Close)

	rerank = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rerankStatus)
		_, _ = io.WriteString(w, rerankBody)
	}))
	t.Cleanup(rerank.Close)
	return meili, rerank
}

func configureStack(t *testing.T, meili, rerank *httptest.Server) string {
	t.Helper()
	isolate(t)
	out := filepath.Join(t.TempDir(), "results.json")
	t.Setenv("SEARCH_BACKEND", "meilisearch")
	t.Setenv("MEILISEARCH_HOST", meili.URL)
	t.Setenv("MEILISEARCH_INDEX", "articles")
	t.Setenv("RERANK_PROVIDER", "cohere")
	t.Setenv("RERANK_MODEL", "rerank-v3.5")
	t.Setenv("RERANK_ENDPOINT", rerank.URL)
	t.Setenv("OUTPUT_FILE", out)
	return out
}

func TestSearchCommand_EndToEnd(t *testing.T) {
	meili, rerank := fakeStack(t, http.StatusOK,
		`{"results":[{"index":1,"relevance_score":0.98},{"index":2,"relevance_score":0.5}]}`)
	out := configureStack(t, meili, rerank)

	stdout, _, err := execute(t, "", "search", "ocean", "temperature", "trends", "--top-k", "2", "--format", "json")
	require.NoError(t, err)

	printed, err := artifact.Unmarshal([]byte(stdout))
	require.NoError(t, err)
	require.Len(t, printed.RerankedResults, 2)
	assert.Equal(t, "doc-2", printed.RerankedResults[0].ID)
	assert.Equal(t, 0.98, printed.RerankedResults[0].RerankScore)
	assert.Equal(t, 0.8, printed.RerankedResults[0].OriginalScore)
	assert.Equal(t, "warming trend", printed.RerankedResults[0].Excerpt)
	assert.Len(t, printed.OriginalResults, 3)
	assert.Equal(t, "meilisearch", printed.Backend)

	saved, err := artifact.Read(out)
	require.NoError(t, err)
	assert.Equal(t, printed.ID, saved.ID)
}

func TestSearchCommand_PromptsForQuery(t *testing.T) {
	meili, rerank := fakeStack(t, http.StatusOK, `{"results":[{"index":0,"relevance_score":0.7}]}`)
	out := configureStack(t, meili, rerank)

	stdout, _, err := execute(t, "ocean temperature trends\n", "search", "--top-k", "1", "--no-output")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, queryPrompt))
	assert.Contains(t, stdout, "1. doc-1")

	_, err = artifact.Read(out)
	assert.Error(t, err)
}

func TestSearchCommand_ReconciliationFailure(t *testing.T) {
	meili, rerank := fakeStack(t, http.StatusOK, `{"results":[{"index":150,"relevance_score":0.9}]}`)
	out := configureStack(t, meili, rerank)

	_, _, err := execute(t, "", "search", "ocean temperature trends")
	require.Error(t, err)
	assert.ErrorIs(t, err, reranker.ErrReconciliation)
	assert.Equal(t, 7, exitCode(err))

	_, err = artifact.Read(out)
	assert.Error(t, err)
}

func TestSearchCommand_RerankServiceError(t *testing.T) {
	meili, rerank := fakeStack(t, http.StatusBadRequest, `{"message":"bad request"}`)
	configureStack(t, meili, rerank)

	_, _, err := execute(t, "", "search", "ocean temperature trends")
	require.Error(t, err)
	assert.Equal(t, 6, exitCode(err))
}

func TestSearchCommand_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("SEARCH_BACKEND", "meilisearch")
	t.Setenv("MEILISEARCH_INDEX", "")

	_, _, err := execute(t, "", "search", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEILISEARCH_INDEX")
}

func TestNewBackend(t *testing.T) {
	cfg := &config.Config{
		SearchBackend:    config.BackendMeilisearch,
		MeilisearchHost:  "http://localhost:7700",
		MeilisearchIndex: "articles",
		DocumentIDField:  "id",
		SearchTimeout:    time.Second,
	}
	backend, err := newBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &meilisearch.Backend{}, backend)

	cfg.SearchBackend = "solr"
	_, err = newBackend(cfg, nil)
	assert.Error(t, err)
}

func TestNewReranker(t *testing.T) {
	cfg := &config.Config{
		RerankProvider: config.ProviderCohere,
		RerankModel:    "rerank-v3.5",
		RerankTimeout:  time.Second,
		OllamaURL:      "http://localhost:11434",
	}
	rr, err := newReranker(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &cohere.Client{}, rr)
	assert.Equal(t, "rerank-v3.5", rr.ModelName())

	cfg.RerankProvider = config.ProviderOllama
	cfg.RerankModel = ""
	rr, err = newReranker(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &reranker.LLMReranker{}, rr)

	cfg.RerankProvider = config.ProviderBedrock
	_, err = newReranker(cfg, nil)
	assert.Error(t, err)

	cfg.RerankProvider = "unknown"
	_, err = newReranker(cfg, nil)
	assert.Error(t, err)

	var _ reranker.Reranker = (*bedrock.Reranker)(nil)
}

func TestNeedsAWS(t *testing.T) {
	cfg := &config.Config{SearchBackend: config.BackendOpenSearch, OpenSearchService: "aoss", RerankProvider: config.ProviderCohere}
	assert.True(t, needsAWS(cfg))

	cfg.OpenSearchUsername = "admin"
	assert.False(t, needsAWS(cfg))

	cfg.RerankProvider = config.ProviderBedrock
	assert.True(t, needsAWS(cfg))
}

func TestRender_JSONIsValid(t *testing.T) {
	var stdout bytes.Buffer
	a := newApp(strings.NewReader(""), &stdout, io.Discard)
	run := artifact.NewRun("q", 1, 1, nil, nil, artifact.Options{})
	require.NoError(t, a.render(run, "json"))
	assert.True(t, json.Valid(stdout.Bytes()))
}
