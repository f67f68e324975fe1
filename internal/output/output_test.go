package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/rerank/internal/artifact"
)

func sampleRun() *artifact.Run {
	return &artifact.Run{
		Query:          "ocean temperature trends",
		TopK:           2,
		CandidateCount: 100,
		Backend:        "opensearch",
		RerankModel:    "cohere.rerank-v3-5:0",
		RerankedResults: []artifact.Result{
			{Rank: 1, ID: "doc-87", OriginalScore: 12.25, RerankScore: 0.98, Excerpt: "Sea surface\n temperature   rose"},
			{Rank: 2, ID: "doc-3", OriginalScore: 20, RerankScore: 0.5},
		},
	}
}

func TestParseColorMode(t *testing.T) {
	for in, want := range map[string]ColorMode{"": ColorAuto, "auto": ColorAuto, "always": ColorAlways, "never": ColorNever} {
		got, err := ParseColorMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseColorMode("sometimes")
	assert.Error(t, err)
}

func TestResolveColors(t *testing.T) {
	assert.True(t, ResolveColors(ColorAlways))
	assert.False(t, ResolveColors(ColorNever))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, ResolveColors(ColorAuto))
}

func TestPrinter_List(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinterWithWriters(&out, &out, false)

	p.List(sampleRun())
	s := out.String()

	assert.Contains(t, s, `Reranked results for "ocean temperature trends"`)
	assert.Contains(t, s, "100 candidates, top 2, backend opensearch, model cohere.rerank-v3-5:0")
	assert.Contains(t, s, "1. doc-87\n   Score: 0.9800 (original: 12.2500)\n   Content: Sea surface temperature rose\n")
	assert.Contains(t, s, "2. doc-3\n   Score: 0.5000 (original: 20.0000)\n")
	assert.Less(t, strings.Index(s, "doc-87"), strings.Index(s, "doc-3"))
}

func TestPrinter_ListEmpty(t *testing.T) {
	var out bytes.Buffer
	run := sampleRun()
	run.RerankedResults = []artifact.Result{}

	NewPrinterWithWriters(&out, &out, false).List(run)
	assert.Contains(t, out.String(), "No results.")
}

func TestPrinter_ListPreviewLength(t *testing.T) {
	var out bytes.Buffer
	run := sampleRun()
	run.RerankedResults[0].Excerpt = strings.Repeat("x", 50)

	p := NewPrinterWithWriters(&out, &out, false)
	p.PreviewLength = 10
	p.List(run)
	assert.Contains(t, out.String(), "Content: xxxxxxxxxx...\n")
}

func TestPrinter_Table(t *testing.T) {
	var out bytes.Buffer
	NewPrinterWithWriters(&out, &out, false).Table(sampleRun())
	s := out.String()

	assert.Contains(t, strings.ToUpper(s), "RERANK SCORE")
	assert.Contains(t, s, "doc-87")
	assert.Contains(t, s, "0.9800")
	assert.Contains(t, s, "12.2500")
}

func TestPrinter_Error(t *testing.T) {
	var out, errw bytes.Buffer
	NewPrinterWithWriters(&out, &errw, false).Error("backend %s", "down")

	assert.Empty(t, out.String())
	assert.Equal(t, "[ERROR] backend down\n", errw.String())
}
