package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/service"
)

const queryPrompt = "Enter your search query: "

type searchOptions struct {
	poolSize int
	topK     int
	output   string
	noOutput bool
	format   string
}

func (a *app) searchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Retrieve candidates, rerank them and print the results",
		Long: `Search runs the query against the configured backend, reranks up to
--pool-size candidates and prints the --top-k best. Without a query argument
the query is read from stdin.

The run, with both the original and reranked lists, is written to --output.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				q, err := promptQuery(a.stdin, a.stdout)
				if err != nil {
					return err
				}
				query = q
			}
			return a.runSearch(cmd.Context(), query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.poolSize, "pool-size", "n", 0, "candidates to retrieve (default POOL_SIZE)")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "results to return (default TOP_K)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "run artifact path (default OUTPUT_FILE)")
	cmd.Flags().BoolVar(&opts.noOutput, "no-output", false, "do not write the run artifact")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "list", "output format: list, table, json")

	return cmd
}

func (a *app) runSearch(ctx context.Context, query string, opts *searchOptions) error {
	if opts.poolSize < 0 || opts.topK < 0 {
		return &usageError{err: errors.New("--pool-size and --top-k must be positive")}
	}
	if err := validFormat(opts.format); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, a.cfg, a.logger, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	run, err := p.svc.Run(ctx, service.Request{
		Query:    query,
		PoolSize: opts.poolSize,
		TopK:     opts.topK,
	})
	if err != nil {
		return err
	}

	if !opts.noOutput {
		path := opts.output
		if path == "" {
			path = a.cfg.OutputFile
		}
		if path == "" {
			path = artifact.DefaultPath
		}
		if err := artifact.Write(path, run); err != nil {
			return err
		}
		a.logger.Info("run_written", "path", path, "run_id", run.ID.String())
	}

	return a.render(run, opts.format)
}

// promptQuery asks for a query on in.
func promptQuery(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, queryPrompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading query: %w", err)
	}
	query := strings.TrimSpace(line)
	if query == "" {
		return "", &usageError{err: errors.New("query is empty")}
	}
	return query, nil
}

func validFormat(format string) error {
	switch format {
	case "list", "table", "json":
		return nil
	default:
		return &usageError{err: fmt.Errorf("invalid format %q: must be list, table, or json", format)}
	}
}

func (a *app) render(run *artifact.Run, format string) error {
	switch format {
	case "json":
		data, err := artifact.Marshal(run)
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(data)
		return err
	case "table":
		a.printer.Table(run)
	default:
		a.printer.List(run)
	}
	return nil
}
