package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/knoguchi/rerank/internal/auth"
	"github.com/knoguchi/rerank/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.HTTPPort = port
			}
			// Server logs go to stdout.
			a.logger = slog.New(slog.NewJSONHandler(a.stdout, &slog.HandlerOptions{Level: a.cfg.SlogLevel()}))
			slog.SetDefault(a.logger)
			return a.runServer()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default HTTP_PORT)")
	return cmd
}

func (a *app) runServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := a.cfg
	a.logger.Info("starting search service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := buildPipeline(ctx, cfg, a.logger, registry)
	if err != nil {
		return err
	}
	defer p.Close()

	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtConfig := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtConfig.Expiry = cfg.JWTExpiry
		jwtManager = auth.NewJWTManager(jwtConfig)
	}
	authenticator := auth.NewAuthenticator(cfg.APIKeys, jwtManager)
	if !authenticator.Enabled() {
		a.logger.Warn("authentication disabled: set API_KEYS or JWT_SECRET")
	}

	checks := map[string]server.ReadinessCheck{}
	if p.db != nil {
		checks["database"] = p.db.Ping
	}

	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         a.logger,
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           authenticator,
		RateLimit:      rate.Limit(cfg.RateLimitRPS),
		RateBurst:      cfg.RateLimitBurst,
		Gatherer:       registry,
		Checks:         checks,
	}, p.svc)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}
