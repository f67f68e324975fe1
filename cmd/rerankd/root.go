package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank/internal/config"
	"github.com/knoguchi/rerank/internal/output"
)

// app carries the state shared by all commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	verbose   bool
	colorMode string

	cfg     *config.Config
	logger  *slog.Logger
	printer *output.Printer
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rerankd",
		Short: "Retrieve-then-rerank search",
		Long: `rerankd runs a lexical query against a search backend, reranks the
candidate pool with a cross-encoder service and reports both rankings.

Example usage:
  rerankd search "ocean temperature trends"   # Search and print reranked results
  rerankd search --top-k 5 --format table      # Prompt for a query, print a table
  rerankd show reranking_results.json          # Re-render a saved run
  rerankd serve                                # Start the HTTP API
  rerankd token --subject dashboard            # Mint an API token`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().StringVar(&a.colorMode, "color", "auto", "color output: auto, always, never")

	root.AddCommand(
		a.searchCmd(),
		a.serveCmd(),
		a.showCmd(),
		a.tokenCmd(),
	)
	return root
}

// init loads configuration and sets up logging and output.
func (a *app) init() error {
	mode, err := output.ParseColorMode(a.colorMode)
	if err != nil {
		return &usageError{err: err}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	level := cfg.SlogLevel()
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	a.printer = output.NewPrinterWithWriters(a.stdout, a.stderr, output.ResolveColors(mode))
	a.printer.PreviewLength = cfg.ExcerptLength

	a.logger.Debug("configuration loaded",
		"search_backend", cfg.SearchBackend,
		"rerank_provider", cfg.RerankProvider,
		"pool_size", cfg.PoolSize,
		"top_k", cfg.TopK,
	)
	return nil
}
