package main

import (
	"errors"
	"os"

	"github.com/knoguchi/rerank/internal/output"
	"github.com/knoguchi/rerank/internal/service"
)

var version = "dev"

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.rootCmd().Execute(); err != nil {
		output.NewPrinterWithWriters(os.Stdout, os.Stderr, output.ResolveColors(output.ColorAuto)).Error("%v", err)
		os.Exit(exitCode(err))
	}
}

// usageError marks bad command-line input.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// exitCode maps an error to the process exit status. Each failure class
// gets its own code so scripts can tell them apart.
func exitCode(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	switch service.ErrorKind(err) {
	case "invalid_request":
		return 2
	case "backend_unavailable":
		return 3
	case "backend_query":
		return 4
	case "rerank_unavailable":
		return 5
	case "rerank_service":
		return 6
	case "reconciliation":
		return 7
	case "canceled":
		return 130
	default:
		return 1
	}
}
