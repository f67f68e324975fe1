package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank/internal/artifact"
	"github.com/knoguchi/rerank/internal/repository/postgres"
)

func (a *app) showCmd() *cobra.Command {
	var (
		runID  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "show [file]",
		Short: "Print a saved run",
		Long: `Show re-renders a run artifact written by search, or with --run-id a run
from the PostgreSQL run store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validFormat(format); err != nil {
				return err
			}

			var (
				run *artifact.Run
				err error
			)
			switch {
			case runID != "" && len(args) > 0:
				return &usageError{err: errors.New("pass either a file or --run-id, not both")}
			case runID != "":
				run, err = a.loadStoredRun(cmd.Context(), runID)
			default:
				path := a.cfg.OutputFile
				if len(args) == 1 {
					path = args[0]
				}
				run, err = artifact.Read(path)
			}
			if err != nil {
				return err
			}
			return a.render(run, format)
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "load the run from the database")
	cmd.Flags().StringVarP(&format, "format", "f", "list", "output format: list, table, json")
	return cmd
}

func (a *app) loadStoredRun(ctx context.Context, runID string) (*artifact.Run, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, &usageError{err: fmt.Errorf("invalid run id %q", runID)}
	}
	if a.cfg.DatabaseURL == "" {
		return nil, &usageError{err: errors.New("DATABASE_URL is not set")}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := postgres.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return postgres.NewRunRepo(db).GetByID(ctx, id)
}
