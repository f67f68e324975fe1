package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/repository"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *RunRepo) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRunRepo(NewWithPool(mock))
}

func sampleRun() *artifact.Run {
	return &artifact.Run{
		ID:             uuid.New(),
		Query:          "ocean temperature trends",
		Backend:        "opensearch",
		RerankModel:    "cohere.rerank-v3-5:0",
		PoolSize:       100,
		TopK:           2,
		CandidateCount: 3,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		OriginalResults: []artifact.Candidate{
			{ID: "a", Score: 12.5}, {ID: "b", Score: 9}, {ID: "c", Score: 1},
		},
		RerankedResults: []artifact.Result{
			{Rank: 1, ID: "b", OriginalScore: 9, RerankScore: 0.98, Excerpt: "ocean heat"},
			{Rank: 2, ID: "a", OriginalScore: 12.5, RerankScore: 0.4},
		},
	}
}

func TestRunRepo_Save(t *testing.T) {
	mock, repo := newMockRepo(t)
	run := sampleRun()

	mock.ExpectExec(`INSERT INTO search_runs`).
		WithArgs(run.ID, run.Query, run.Backend, run.RerankModel, 100, 2, 3, 2,
			pgxmock.AnyArg(), pgxmock.AnyArg(), run.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Save(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_SaveError(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec(`INSERT INTO search_runs`).
		WillReturnError(errors.New("connection reset"))

	err := repo.Save(context.Background(), sampleRun())
	assert.ErrorContains(t, err, "failed to save run")
}

func TestRunRepo_GetByID(t *testing.T) {
	mock, repo := newMockRepo(t)
	run := sampleRun()

	originalJSON, err := json.Marshal(run.OriginalResults)
	require.NoError(t, err)
	rerankedJSON, err := json.Marshal(run.RerankedResults)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"id", "query", "backend", "rerank_model", "pool_size", "top_k", "candidate_count", "original_results", "reranked_results", "created_at"}).
		AddRow(run.ID, run.Query, run.Backend, run.RerankModel, 100, 2, 3, originalJSON, rerankedJSON, run.CreatedAt)
	mock.ExpectQuery(`SELECT id, query, backend, rerank_model, pool_size, top_k, candidate_count, original_results, reranked_results, created_at\s+FROM search_runs\s+WHERE id = \$1`).
		WithArgs(run.ID).
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_GetByID_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM search_runs`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRunRepo_List(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now().UTC()
	id1, id2 := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM search_runs`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`ORDER BY created_at DESC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(2, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "query", "backend", "rerank_model", "pool_size", "top_k", "candidate_count", "result_count", "created_at"}).
			AddRow(id1, "q1", "opensearch", "m", 100, 20, 100, 20, now).
			AddRow(id2, "q2", "meilisearch", "m", 50, 5, 0, 0, now.Add(-time.Minute)))

	runs, total, err := repo.List(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, runs, 2)
	assert.Equal(t, id1, runs[0].ID)
	assert.Equal(t, "meilisearch", runs[1].Backend)
	assert.Equal(t, 0, runs[1].ResultCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepo_Delete(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM search_runs WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDB_EnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS search_runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewWithPool(mock).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
