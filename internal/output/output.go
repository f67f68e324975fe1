// Package output renders search runs for the terminal.
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/knoguchi/rerank/internal/artifact"
)

// ColorMode represents color output mode
type ColorMode int

const (
	// ColorAuto enables colors based on environment (default)
	ColorAuto ColorMode = iota
	// ColorAlways forces colors on
	ColorAlways
	// ColorNever forces colors off
	ColorNever
)

// ParseColorMode parses a string into a ColorMode
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q: must be auto, always, or never", s)
	}
}

// ResolveColors determines whether to use colors based on mode and environment
func ResolveColors(mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false
		}
		if os.Getenv("TERM") == "dumb" {
			return false
		}
		return !color.NoColor
	}
}

// Printer writes runs and status messages.
type Printer struct {
	out       io.Writer
	err       io.Writer
	useColors bool
	// PreviewLength bounds the content preview in list output.
	PreviewLength int
}

// NewPrinter creates a printer on stdout and stderr.
func NewPrinter(useColors bool) *Printer {
	return NewPrinterWithWriters(os.Stdout, os.Stderr, useColors)
}

// NewPrinterWithWriters creates a printer with custom writers.
func NewPrinterWithWriters(out, errw io.Writer, useColors bool) *Printer {
	return &Printer{
		out:           out,
		err:           errw,
		useColors:     useColors,
		PreviewLength: artifact.DefaultExcerptLength,
	}
}

// Info prints an informational message
func (p *Printer) Info(format string, args ...any) {
	if p.useColors {
		color.New(color.FgCyan).Fprintf(p.out, format+"\n", args...)
	} else {
		fmt.Fprintf(p.out, format+"\n", args...)
	}
}

// Error prints an error message
func (p *Printer) Error(format string, args ...any) {
	if p.useColors {
		color.New(color.FgRed).Fprintf(p.err, "✗ "+format+"\n", args...)
	} else {
		fmt.Fprintf(p.err, "[ERROR] "+format+"\n", args...)
	}
}

// Header prints a section header
func (p *Printer) Header(title string) {
	if p.useColors {
		color.New(color.FgWhite, color.Bold).Fprintf(p.out, "\n%s\n", title)
		fmt.Fprintf(p.out, "%s\n", strings.Repeat("─", len([]rune(title))))
	} else {
		fmt.Fprintf(p.out, "\n%s\n%s\n", title, strings.Repeat("-", len([]rune(title))))
	}
}

// List prints the reranked results as a numbered list with a content preview.
func (p *Printer) List(run *artifact.Run) {
	p.Header(fmt.Sprintf("Reranked results for %q", run.Query))
	fmt.Fprintf(p.out, "%d candidates, top %d, backend %s, model %s\n",
		run.CandidateCount, run.TopK, orDash(run.Backend), orDash(run.RerankModel))

	if len(run.RerankedResults) == 0 {
		p.Info("\nNo results.")
		return
	}

	for _, r := range run.RerankedResults {
		fmt.Fprintln(p.out)
		rank := fmt.Sprintf("%d.", r.Rank)
		if p.useColors {
			rank = color.New(color.Bold).Sprint(rank)
		}
		fmt.Fprintf(p.out, "%s %s\n", rank, r.ID)
		fmt.Fprintf(p.out, "   Score: %s (original: %s)\n", p.score(r.RerankScore), formatScore(r.OriginalScore))
		if r.Excerpt != "" {
			fmt.Fprintf(p.out, "   Content: %s\n", preview(r.Excerpt, p.PreviewLength))
		}
	}
}

// Table prints the reranked results as a table.
func (p *Printer) Table(run *artifact.Run) {
	table := tablewriter.NewTable(p.out,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoWrap: tw.WrapNone,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{
					AutoFormat: tw.On,
				},
				Alignment: tw.CellAlignment{
					Global: tw.AlignLeft,
				},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{
					ShowHeader: tw.Off,
				},
			},
		}),
	)

	rows := make([][]string, len(run.RerankedResults))
	for i, r := range run.RerankedResults {
		rows[i] = []string{
			strconv.Itoa(r.Rank),
			r.ID,
			formatScore(r.RerankScore),
			formatScore(r.OriginalScore),
			preview(r.Excerpt, 60),
		}
	}

	table.Header([]string{"rank", "id", "rerank score", "original score", "content"})
	_ = table.Bulk(rows)
	_ = table.Render()
}

func (p *Printer) score(v float64) string {
	s := formatScore(v)
	if !p.useColors {
		return s
	}
	switch {
	case v >= 0.7:
		return color.GreenString(s)
	case v >= 0.3:
		return color.YellowString(s)
	default:
		return color.New(color.Faint).Sprint(s)
	}
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// preview flattens whitespace and cuts s to n characters.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	return artifact.Excerpt(s, n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
