// Package service wires the retrieve, project and rerank stages into a single
// search run.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/metrics"
	"github.com/knoguchi/rerank/internal/projection"
	"github.com/knoguchi/rerank/internal/repository"
	"github.com/knoguchi/rerank/internal/reranker"
	"github.com/knoguchi/rerank/internal/search"
)

// ErrRunStoreDisabled is returned by run lookups when no repository is set.
var ErrRunStoreDisabled = errors.New("run store is not configured")

// Config holds per-service defaults. Zero values fall back to the package
// defaults.
type Config struct {
	PoolSize      int
	TopK          int
	SearchTimeout time.Duration
	RerankTimeout time.Duration
	// MaxAttempts bounds calls per stage; 1 disables retry.
	MaxAttempts   int
	ExcerptLength int
	IncludeSource bool
}

const defaultTimeout = 20 * time.Second

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = search.DefaultPoolSize
	}
	if c.TopK <= 0 {
		c.TopK = reranker.DefaultTopK
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = defaultTimeout
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = artifact.DefaultExcerptLength
	}
	return c
}

// Request is one search. Zero PoolSize or TopK use the service defaults.
type Request struct {
	Query    string `json:"query"`
	PoolSize int    `json:"pool_size,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// SearchService runs the retrieve-then-rerank pipeline. It holds no
// per-query state and is safe for concurrent use.
type SearchService struct {
	retriever  *search.Retriever
	projector  *projection.Projector
	fuser      *reranker.Fuser
	runs       repository.RunRepository // Optional: if set, runs are persisted
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	newBackOff func() backoff.BackOff
}

// SearchServiceOption is a functional option for configuring SearchService.
type SearchServiceOption func(*SearchService)

// WithRunRepository persists every successful run.
func WithRunRepository(repo repository.RunRepository) SearchServiceOption {
	return func(s *SearchService) {
		s.runs = repo
	}
}

// WithMetrics records stage timings and errors.
func WithMetrics(m *metrics.Metrics) SearchServiceOption {
	return func(s *SearchService) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SearchServiceOption {
	return func(s *SearchService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackOff sets the retry policy used between attempts.
func WithBackOff(newBackOff func() backoff.BackOff) SearchServiceOption {
	return func(s *SearchService) {
		s.newBackOff = newBackOff
	}
}

// NewSearchService creates a new SearchService
func NewSearchService(
	retriever *search.Retriever,
	projector *projection.Projector,
	fuser *reranker.Fuser,
	cfg Config,
	opts ...SearchServiceOption,
) *SearchService {
	s := &SearchService{
		retriever:  retriever,
		projector:  projector,
		fuser:      fuser,
		logger:     slog.Default(),
		cfg:        cfg.withDefaults(),
		newBackOff: defaultBackOff,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.Multiplier = 2
	return bo
}

// Config returns the effective defaults.
func (s *SearchService) Config() Config {
	return s.cfg
}

// Run executes one query through retrieval, projection and reranking. Any
// stage failure ends the run with no partial result.
func (s *SearchService) Run(ctx context.Context, req Request) (*artifact.Run, error) {
	start := time.Now()

	run, err := s.run(ctx, req)
	if err != nil {
		s.metrics.RecordRun("error", 0)
		s.logger.Error("search_run_failed",
			slog.String("query", truncate(req.Query, 100)),
			slog.String("kind", ErrorKind(err)),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, err
	}

	s.metrics.RecordRun("ok", run.CandidateCount)
	s.metrics.ObserveStage(metrics.StagePipeline, start)
	s.logger.Info("search_run_completed",
		slog.String("run_id", run.ID.String()),
		slog.String("query", truncate(run.Query, 100)),
		slog.Int("candidate_count", run.CandidateCount),
		slog.Int("result_count", len(run.RerankedResults)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	if s.runs != nil {
		if err := s.runs.Save(ctx, run); err != nil {
			s.logger.Warn("run_save_failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	return run, nil
}

func (s *SearchService) run(ctx context.Context, req Request) (*artifact.Run, error) {
	query := strings.TrimSpace(req.Query)
	poolSize, topK := req.PoolSize, req.TopK
	if poolSize == 0 {
		poolSize = s.cfg.PoolSize
	}
	if topK == 0 {
		topK = s.cfg.TopK
	}
	if topK < 0 {
		return nil, &reranker.Error{Op: "Run", Kind: reranker.ErrInvalidTopK, Err: fmt.Errorf("got %d", topK)}
	}

	// Step 1: Retrieve the candidate pool
	stageStart := time.Now()
	candidates, err := withRetry(ctx, s, metrics.StageRetrieve, s.cfg.SearchTimeout,
		func(err error) bool { return errors.Is(err, search.ErrBackendUnavailable) },
		func(callCtx context.Context) ([]search.Document, error) {
			docs, err := s.retriever.Retrieve(callCtx, query, poolSize)
			if err != nil && timedOut(ctx, callCtx, err) && !errors.Is(err, search.ErrBackendUnavailable) {
				err = search.Unavailable("Retrieve", err)
			}
			return docs, err
		})
	s.metrics.ObserveStage(metrics.StageRetrieve, stageStart)
	if err != nil {
		s.metrics.RecordError(metrics.StageRetrieve, ErrorKind(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search canceled after retrieval: %w", err)
	}

	// Step 2: Project candidates to rerank texts
	stageStart = time.Now()
	entries := s.projector.Project(candidates)
	s.metrics.ObserveStage(metrics.StageProject, stageStart)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search canceled after projection: %w", err)
	}

	// Step 3: Rerank and fuse
	stageStart = time.Now()
	fused, err := withRetry(ctx, s, metrics.StageRerank, s.cfg.RerankTimeout,
		func(err error) bool { return errors.Is(err, reranker.ErrRerankUnavailable) },
		func(callCtx context.Context) ([]reranker.FusedResult, error) {
			fr, err := s.fuser.RerankAndFuse(callCtx, query, entries, topK)
			if err != nil && timedOut(ctx, callCtx, err) && !errors.Is(err, reranker.ErrRerankUnavailable) {
				err = reranker.Unavailable("RerankAndFuse", err)
			}
			return fr, err
		})
	s.metrics.ObserveStage(metrics.StageRerank, stageStart)
	if err != nil {
		s.metrics.RecordError(metrics.StageRerank, ErrorKind(err))
		return nil, err
	}

	run := artifact.NewRun(query, poolSize, topK, candidates, fused, artifact.Options{
		ExcerptLength: s.cfg.ExcerptLength,
		IncludeSource: s.cfg.IncludeSource,
	})
	run.Backend = s.retriever.Backend().Name()
	run.RerankModel = s.fuser.Reranker().ModelName()

	return run, nil
}

// GetRun returns a stored run.
func (s *SearchService) GetRun(ctx context.Context, id uuid.UUID) (*artifact.Run, error) {
	if s.runs == nil {
		return nil, ErrRunStoreDisabled
	}
	return s.runs.GetByID(ctx, id)
}

// DeleteRun removes a stored run.
func (s *SearchService) DeleteRun(ctx context.Context, id uuid.UUID) error {
	if s.runs == nil {
		return ErrRunStoreDisabled
	}
	if err := s.runs.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("run_deleted", slog.String("run_id", id.String()))
	return nil
}

// ListRuns returns stored run summaries, newest first.
func (s *SearchService) ListRuns(ctx context.Context, limit, offset int) ([]*repository.RunSummary, int, error) {
	if s.runs == nil {
		return nil, 0, ErrRunStoreDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.runs.List(ctx, limit, offset)
}

// withRetry calls op with a per-attempt timeout. Only errors accepted by
// retryable are retried, and never once the parent context is done.
func withRetry[T any](
	ctx context.Context,
	s *SearchService,
	stage string,
	timeout time.Duration,
	retryable func(error) bool,
	op func(context.Context) (T, error),
) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		if attempt > 1 {
			s.metrics.RecordRetry(stage)
			s.logger.Info("stage_retry",
				slog.String("stage", stage),
				slog.Int("attempt", attempt))
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
}

// timedOut reports whether err came from the per-call deadline rather than
// the caller's context.
func timedOut(parent, call context.Context, err error) bool {
	return parent.Err() == nil &&
		errors.Is(call.Err(), context.DeadlineExceeded) &&
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorKind names the error class of err for logs, metrics and exit codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, reranker.ErrInvalidTopK):
		return "invalid_request"
	case errors.Is(err, search.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, search.ErrBackendQuery):
		return "backend_query"
	case errors.Is(err, reranker.ErrReconciliation):
		return "reconciliation"
	case errors.Is(err, reranker.ErrRerankUnavailable):
		return "rerank_unavailable"
	case errors.Is(err, reranker.ErrRerankService):
		return "rerank_service"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
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
