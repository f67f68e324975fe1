// Package projection turns retrieved documents into the text payload sent to
// the reranker, one entry per candidate in candidate order.
package projection

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/knoguchi/rerank/internal/search"
)

const (
	// DefaultPrimaryField is the field reranked when none is configured.
	DefaultPrimaryField = "full_text"

	// Placeholder is the text used for a document with nothing extractable.
	Placeholder = ""
)

// DefaultFallbackFields are concatenated when the primary field is empty.
var DefaultFallbackFields = []string{"title", "description", "content"}

// Entry pairs a candidate with the text the reranker scores. Its position in
// the slice returned by Project is the only link back to the candidate.
type Entry struct {
	Document search.Document
	Text     string
}

// Projector extracts rerank text from documents.
type Projector struct {
	PrimaryField   string
	FallbackFields []string
}

// New creates a projector. An empty primary field falls back to
// DefaultPrimaryField.
func New(primaryField string, fallbackFields []string) *Projector {
	if primaryField == "" {
		primaryField = DefaultPrimaryField
	}
	return &Projector{
		PrimaryField:   primaryField,
		FallbackFields: fallbackFields,
	}
}

// Project returns exactly one entry per candidate; entries[i].Document is
// candidates[i]. It never filters, reorders or fails.
func (p *Projector) Project(candidates []search.Document) []Entry {
	entries := make([]Entry, len(candidates))
	for i, doc := range candidates {
		entries[i] = Entry{Document: doc, Text: p.Text(doc)}
	}
	return entries
}

// Texts returns the entry texts in order.
func Texts(entries []Entry) []string {
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}
	return texts
}

// Text extracts the rerank text of a single document.
func (p *Projector) Text(doc search.Document) string {
	if text, ok := lookupText(doc.Fields, p.PrimaryField); ok {
		return text
	}

	parts := make([]string, 0, len(p.FallbackFields))
	for _, field := range p.FallbackFields {
		if text, ok := lookupText(doc.Fields, field); ok {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return Placeholder
	}
	return strings.Join(parts, " ")
}

// lookupText resolves field in fields, first as a literal key and then as a
// dotted path through nested objects. ok is false when the value is missing
// or blank.
func lookupText(fields map[string]any, field string) (string, bool) {
	if field == "" || fields == nil {
		return "", false
	}

	v, found := fields[field]
	if !found && strings.Contains(field, ".") {
		v, found = lookupPath(fields, strings.Split(field, "."))
	}
	if !found {
		return "", false
	}

	text := stringify(v)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

func lookupPath(fields map[string]any, path []string) (any, bool) {
	var cur any = fields
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringify(item); strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(val, " ")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
