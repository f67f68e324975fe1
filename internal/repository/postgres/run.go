package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/repository"
)

// RunRepo implements repository.RunRepository
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new run repository
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// Save stores a run
func (r *RunRepo) Save(ctx context.Context, run *artifact.Run) error {
	originalJSON, err := json.Marshal(run.OriginalResults)
	if err != nil {
		return fmt.Errorf("failed to marshal original results: %w", err)
	}
	rerankedJSON, err := json.Marshal(run.RerankedResults)
	if err != nil {
		return fmt.Errorf("failed to marshal reranked results: %w", err)
	}

	query := `
		INSERT INTO search_runs (id, query, backend, rerank_model, pool_size, top_k, candidate_count, result_count, original_results, reranked_results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		run.ID, run.Query, run.Backend, run.RerankModel,
		run.PoolSize, run.TopK, run.CandidateCount, len(run.RerankedResults),
		originalJSON, rerankedJSON, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*artifact.Run, error) {
	query := `
		SELECT id, query, backend, rerank_model, pool_size, top_k, candidate_count, original_results, reranked_results, created_at
		FROM search_runs
		WHERE id = $1
	`
	var run artifact.Run
	var originalJSON, rerankedJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Query, &run.Backend, &run.RerankModel,
		&run.PoolSize, &run.TopK, &run.CandidateCount,
		&originalJSON, &rerankedJSON, &run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.OriginalResults = []artifact.Candidate{}
	if err := json.Unmarshal(originalJSON, &run.OriginalResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal original results: %w", err)
	}
	run.RerankedResults = []artifact.Result{}
	if err := json.Unmarshal(rerankedJSON, &run.RerankedResults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reranked results: %w", err)
	}

	return &run, nil
}

// List retrieves run summaries, newest first
func (r *RunRepo) List(ctx context.Context, limit, offset int) ([]*repository.RunSummary, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM search_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT id, query, backend, rerank_model, pool_size, top_k, candidate_count, result_count, created_at
		FROM search_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*repository.RunSummary{}
	for rows.Next() {
		var s repository.RunSummary
		if err := rows.Scan(&s.ID, &s.Query, &s.Backend, &s.RerankModel,
			&s.PoolSize, &s.TopK, &s.CandidateCount, &s.ResultCount, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, total, nil
}

// Delete deletes a run
func (r *RunRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM search_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.RunRepository = (*RunRepo)(nil)
