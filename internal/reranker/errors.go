package reranker

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRerankUnavailable is returned on transport, auth or timeout failures
	// talking to the reranking service.
	ErrRerankUnavailable = errors.New("rerank service unavailable")

	// ErrRerankService is returned when the service answers with an error or
	// a malformed response.
	ErrRerankService = errors.New("rerank service error")

	// ErrReconciliation is returned when a result cannot be mapped back to a
	// candidate, e.g. an out-of-range or repeated index.
	ErrReconciliation = errors.New("rerank result reconciliation failed")

	// ErrInvalidTopK is returned for a non-positive result count.
	ErrInvalidTopK = errors.New("top_k must be positive")
)

// Error describes a failed rerank operation.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("rerank: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("rerank: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps err as ErrRerankUnavailable for operation op.
func Unavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrRerankUnavailable, Err: err}
}

// ServiceError wraps err as ErrRerankService for operation op.
func ServiceError(op string, err error) error {
	return &Error{Op: op, Kind: ErrRerankService, Err: err}
}

// FromStatus classifies a non-2xx HTTP status from a reranking service.
// Auth failures, throttling and server errors mean the service is
// unavailable; other client errors mean it refused the request.
func FromStatus(op string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return Unavailable(op, err)
	case status >= 400 && status < 500:
		return ServiceError(op, err)
	default:
		return Unavailable(op, err)
	}
}
