package search

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBackendUnavailable is returned when the search service cannot be
	// reached, times out, or fails at the transport level.
	ErrBackendUnavailable = errors.New("search backend unavailable")

	// ErrBackendQuery is returned when the search service rejects the query.
	ErrBackendQuery = errors.New("search backend rejected query")

	// ErrInvalidQuery is returned for an empty query or non-positive pool size.
	ErrInvalidQuery = errors.New("invalid search request")
)

// Error describes a failed retrieval operation.
type Error struct {
	Op   string
	Kind error // one of the sentinel errors above
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("search: %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("search: %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps err as ErrBackendUnavailable for operation op.
func Unavailable(op string, err error) error {
	return &Error{Op: op, Kind: ErrBackendUnavailable, Err: err}
}

// QueryRejected wraps err as ErrBackendQuery for operation op.
func QueryRejected(op string, err error) error {
	return &Error{Op: op, Kind: ErrBackendQuery, Err: err}
}

// FromStatus classifies a non-2xx HTTP status from a search backend.
// Client errors other than auth, not-found index and throttling mean the
// query itself was rejected; everything else is treated as unavailability.
func FromStatus(op string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return Unavailable(op, err)
	case status >= 400 && status < 500:
		return QueryRejected(op, err)
	default:
		return Unavailable(op, err)
	}
}
