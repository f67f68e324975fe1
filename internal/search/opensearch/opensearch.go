// Package opensearch implements search.Backend on OpenSearch, including
// OpenSearch Serverless collections signed with AWS SigV4.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v4/signer/awsv2"

	"github.com/knoguchi/rerank/internal/search"
)

const (
	// ServiceServerless is the SigV4 service name for OpenSearch Serverless.
	ServiceServerless = "aoss"
	// ServiceManaged is the SigV4 service name for managed OpenSearch domains.
	ServiceManaged = "es"
)

// Config holds connection settings for an OpenSearch backend.
type Config struct {
	Endpoint string // e.g. https://abc123.us-east-1.aoss.amazonaws.com
	Index    string

	// AWS enables SigV4 request signing when set.
	AWS     *aws.Config
	Service string // aoss or es

	Username string
	Password string

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
	Timeout   time.Duration
}

// Backend queries one OpenSearch index with a multi_match over all fields.
type Backend struct {
	client  *opensearchapi.Client
	index   string
	timeout time.Duration
}

// New creates an OpenSearch backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("opensearch endpoint is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("opensearch index is required")
	}

	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	osCfg := opensearch.Config{
		Addresses: []string{strings.TrimRight(endpoint, "/")},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &statusTransport{next: transport},

		// Retries belong to the caller.
		DisableRetry: true,
	}

	if cfg.AWS != nil {
		service := cfg.Service
		if service == "" {
			service = ServiceServerless
		}
		signer, err := awsv2.NewSignerWithService(*cfg.AWS, service)
		if err != nil {
			return nil, fmt.Errorf("failed to create aws signer: %w", err)
		}
		osCfg.Signer = signer
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{Client: osCfg})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Backend{client: client, index: cfg.Index, timeout: cfg.Timeout}, nil
}

// Name implements search.Backend.
func (b *Backend) Name() string {
	return "opensearch"
}

type multiMatchQuery struct {
	Query struct {
		MultiMatch struct {
			Query  string   `json:"query"`
			Fields []string `json:"fields"`
		} `json:"multi_match"`
	} `json:"query"`
	Size int `json:"size"`
}

func buildQuery(query string, size int) ([]byte, error) {
	var q multiMatchQuery
	q.Query.MultiMatch.Query = query
	q.Query.MultiMatch.Fields = []string{"*"}
	q.Size = size
	return json.Marshal(q)
}

// Search implements search.Backend.
func (b *Backend) Search(ctx context.Context, query string, size int) ([]search.Document, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	body, err := buildQuery(query, size)
	if err != nil {
		return nil, search.QueryRejected("Search", fmt.Errorf("failed to marshal query: %w", err))
	}

	status := new(int)
	resp, err := b.client.Search(withStatus(ctx, status), &opensearchapi.SearchReq{
		Indices: []string{b.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		if *status >= 300 {
			return nil, search.FromStatus("Search", *status, err)
		}
		return nil, search.Unavailable("Search", err)
	}

	docs := make([]search.Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		fields := make(map[string]any)
		if len(hit.Source) > 0 {
			if err := json.Unmarshal(hit.Source, &fields); err != nil {
				return nil, search.Unavailable("Search", fmt.Errorf("failed to decode _source of %s: %w", hit.ID, err))
			}
		}
		docs = append(docs, search.Document{
			ID:     hit.ID,
			Score:  float64(hit.Score),
			Fields: fields,
		})
	}

	return docs, nil
}

type statusKey struct{}

func withStatus(ctx context.Context, status *int) context.Context {
	return context.WithValue(ctx, statusKey{}, status)
}

// statusTransport records the HTTP status of the last response into the
// request context so failures can be told apart after the client has
// converted them into errors.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*int); ok {
			*status = resp.StatusCode
		}
	}
	return resp, err
}

var _ search.Backend = (*Backend)(nil)
