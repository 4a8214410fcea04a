// Package graph provides an HTTP client for the signed-in user's drive in
// the Microsoft Graph API: list, delete and upload, with error
// classification. Requests are never retried internally; retry policy
// belongs to the caller.
package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, graph.ErrConflict) to check.
var (
	ErrBadRequest   = errors.New("graph: bad request")
	ErrUnauthorized = errors.New("graph: unauthorized")
	ErrForbidden    = errors.New("graph: forbidden")
	ErrNotFound     = errors.New("graph: not found")
	ErrConflict     = errors.New("graph: conflict")
	ErrTransient    = errors.New("graph: transient network error")
	ErrUnexpected   = errors.New("graph: unexpected response")

	// ErrHashMismatch means the drive stored different content than was
	// sent.
	ErrHashMismatch = errors.New("graph: uploaded content hash mismatch")
)

// Local validation errors; no request is sent when these are returned.
var (
	ErrInvalidPageSize = errors.New("graph: page size must be positive")
	ErrMissingETag     = errors.New("graph: delete requires an etag")
	ErrMissingItemID   = errors.New("graph: item id is required")
	ErrInvalidName     = errors.New("graph: invalid item name")
)

// GraphError wraps a sentinel error with HTTP status code, request ID,
// and the API error message body for debugging.
type GraphError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *GraphError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("graph: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
// 412 Precondition Failed is how the drive reports a stale If-Match etag,
// so it is a conflict like 409.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	}

	if isTransientStatus(code) {
		return ErrTransient
	}

	return ErrUnexpected
}

// isTransientStatus reports whether a retry by the caller could succeed.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		// 509 Bandwidth Limit Exceeded (SharePoint).
		const statusBandwidthExceeded = 509
		return code == statusBandwidthExceeded
	}
}
