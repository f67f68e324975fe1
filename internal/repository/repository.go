// Package repository defines persistence interfaces for search runs.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/rerank/internal/artifact"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// RunSummary is a stored run without its result lists.
type RunSummary struct {
	ID             uuid.UUID
	Query          string
	Backend        string
	RerankModel    string
	PoolSize       int
	TopK           int
	CandidateCount int
	ResultCount    int
	CreatedAt      time.Time
}

// RunRepository defines operations for run persistence
type RunRepository interface {
	Save(ctx context.Context, run *artifact.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*artifact.Run, error)
	List(ctx context.Context, limit, offset int) ([]*RunSummary, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
