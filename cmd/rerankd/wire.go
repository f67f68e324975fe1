package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/knoguchi/rerank/internal/config"
	"github.com/knoguchi/rerank/internal/llm"
	"github.com/knoguchi/rerank/internal/metrics"
	"github.com/knoguchi/rerank/internal/projection"
	"github.com/knoguchi/rerank/internal/repository/postgres"
	"github.com/knoguchi/rerank/internal/reranker"
	"github.com/knoguchi/rerank/internal/reranker/bedrock"
	"github.com/knoguchi/rerank/internal/reranker/cohere"
	"github.com/knoguchi/rerank/internal/search"
	"github.com/knoguchi/rerank/internal/search/meilisearch"
	"github.com/knoguchi/rerank/internal/search/opensearch"
	"github.com/knoguchi/rerank/internal/service"
)

// pipeline holds a wired search service and the resources behind it.
type pipeline struct {
	svc *service.SearchService
	db  *postgres.DB // nil without DATABASE_URL
}

func (p *pipeline) Close() {
	if p.db != nil {
		p.db.Close()
	}
}

// buildPipeline wires the search service from configuration. reg may be nil.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		loaded, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = &loaded
	}

	backend, err := newBackend(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	rr, err := newReranker(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	p := &pipeline{}
	opts := []service.SearchServiceOption{
		service.WithLogger(logger),
		service.WithMetrics(metrics.New(reg)),
	}

	if cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to PostgreSQL")
		p.db = db
		opts = append(opts, service.WithRunRepository(postgres.NewRunRepo(db)))
	}

	p.svc = service.NewSearchService(
		search.NewRetriever(backend, logger),
		projection.New(cfg.PrimaryField, cfg.FallbackFields),
		reranker.NewFuser(rr, logger),
		service.Config{
			PoolSize:      cfg.PoolSize,
			TopK:          cfg.TopK,
			SearchTimeout: cfg.SearchTimeout,
			RerankTimeout: cfg.RerankTimeout,
			MaxAttempts:   cfg.RetryMaxAttempts,
			ExcerptLength: cfg.ExcerptLength,
			IncludeSource: cfg.IncludeSource,
		},
		opts...,
	)

	logger.Info("initialized search pipeline",
		"backend", backend.Name(),
		"rerank_model", rr.ModelName(),
		"run_store", p.db != nil,
	)
	return p, nil
}

// needsAWS reports whether any configured component signs AWS requests.
func needsAWS(cfg *config.Config) bool {
	if cfg.RerankProvider == config.ProviderBedrock {
		return true
	}
	return cfg.SearchBackend == config.BackendOpenSearch &&
		cfg.OpenSearchService != "none" &&
		cfg.OpenSearchUsername == ""
}

func newBackend(cfg *config.Config, awsCfg *aws.Config) (search.Backend, error) {
	switch cfg.SearchBackend {
	case config.BackendMeilisearch:
		return meilisearch.New(meilisearch.Config{
			Host:    cfg.MeilisearchHost,
			APIKey:  cfg.MeilisearchAPIKey,
			Index:   cfg.MeilisearchIndex,
			IDField: cfg.DocumentIDField,
			Timeout: cfg.SearchTimeout,
		})
	case config.BackendOpenSearch:
		osCfg := opensearch.Config{
			Endpoint: cfg.OpenSearchEndpoint,
			Index:    cfg.OpenSearchIndex,
			Service:  cfg.OpenSearchService,
			Username: cfg.OpenSearchUsername,
			Password: cfg.OpenSearchPassword,
			Timeout:  cfg.SearchTimeout,
		}
		if cfg.OpenSearchService != "none" && cfg.OpenSearchUsername == "" {
			osCfg.AWS = awsCfg
		}
		return opensearch.New(osCfg)
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.SearchBackend)
	}
}

func newReranker(cfg *config.Config, awsCfg *aws.Config) (reranker.Reranker, error) {
	switch cfg.RerankProvider {
	case config.ProviderBedrock:
		if awsCfg == nil {
			return nil, fmt.Errorf("bedrock reranker needs AWS configuration")
		}
		return bedrock.NewFromConfig(*awsCfg, bedrock.WithModelID(cfg.RerankModel)), nil
	case config.ProviderCohere:
		opts := []cohere.Option{
			cohere.WithAPIKey(cfg.RerankAPIKey),
			cohere.WithTimeout(cfg.RerankTimeout),
		}
		if cfg.RerankEndpoint != "" {
			opts = append(opts, cohere.WithBaseURL(cfg.RerankEndpoint))
		}
		return cohere.New(cfg.RerankModel, opts...), nil
	case config.ProviderOllama:
		model := cfg.RerankModel
		if model == "" {
			model = llm.DefaultModel
		}
		client := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(model),
			llm.WithTimeout(cfg.RerankTimeout),
		)
		return reranker.NewLLMReranker(client, reranker.WithModel(model)), nil
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", cfg.RerankProvider)
	}
}
