// Package bedrock implements reranker.Reranker over Amazon Bedrock's
// InvokeModel API using the Cohere rerank model family.
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"

	"github.com/knoguchi/rerank/internal/reranker"
	"github.com/knoguchi/rerank/internal/reranker/cohere"
)

// DefaultModel is the Bedrock model id used when none is configured.
const DefaultModel = "cohere.rerank-v3-5:0"

// apiVersion is required by the Cohere rerank models on Bedrock.
const apiVersion = 2

// InvokeModelAPI is the subset of *bedrockruntime.Client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type invokeBody struct {
	Query      string   `json:"query"`
	Documents  []string `json:"documents"`
	TopN       int      `json:"top_n"`
	APIVersion int      `json:"api_version"`
}

// Reranker calls a Bedrock-hosted rerank model.
type Reranker struct {
	client  InvokeModelAPI
	modelID string
}

// Option is a functional option for configuring Reranker.
type Option func(*Reranker)

// WithModelID overrides DefaultModel.
func WithModelID(id string) Option {
	return func(r *Reranker) {
		if id != "" {
			r.modelID = id
		}
	}
}

// New creates a Reranker backed by client.
func New(client InvokeModelAPI, opts ...Option) *Reranker {
	r := &Reranker{client: client, modelID: DefaultModel}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig builds the bedrockruntime client from an AWS config.
func NewFromConfig(cfg aws.Config, opts ...Option) *Reranker {
	return New(bedrockruntime.NewFromConfig(cfg), opts...)
}

// ModelName implements reranker.Reranker.
func (r *Reranker) ModelName() string {
	return r.modelID
}

// Rerank implements reranker.Reranker.
func (r *Reranker) Rerank(ctx context.Context, query string, texts []string, topK int) ([]reranker.Result, error) {
	if len(texts) == 0 {
		return []reranker.Result{}, nil
	}

	body, err := json.Marshal(invokeBody{
		Query:      query,
		Documents:  texts,
		TopN:       topK,
		APIVersion: apiVersion,
	})
	if err != nil {
		return nil, reranker.ServiceError("bedrock.Rerank", fmt.Errorf("failed to marshal invoke body: %w", err))
	}

	out, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classify(err)
	}
	if out == nil {
		return nil, reranker.ServiceError("bedrock.Rerank", errors.New("empty invoke output"))
	}

	return cohere.DecodeResults("bedrock.Rerank", bytes.NewReader(out.Body))
}

// classify maps Bedrock faults onto the rerank error kinds. Request and model
// faults are the service's answer; throttling, access and transport faults
// mean the service could not be used.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException", "ResourceNotFoundException", "ModelErrorException":
			return reranker.ServiceError("bedrock.Rerank", err)
		}
	}
	return reranker.Unavailable("bedrock.Rerank", err)
}

var _ reranker.Reranker = (*Reranker)(nil)
