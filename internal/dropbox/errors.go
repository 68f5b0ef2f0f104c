// Package dropbox provides an HTTP client for the Dropbox API v2 with
// automatic retry, rate limit handling, and error classification. RPC
// endpoints exchange JSON bodies; content endpoints carry raw bytes with a
// JSON argument header.
package dropbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for API error classification.
// Use errors.Is(err, dropbox.ErrNotFound) to check.
var (
	ErrBadRequest        = errors.New("dropbox: bad request")
	ErrUnauthorized      = errors.New("dropbox: unauthorized")
	ErrForbidden         = errors.New("dropbox: forbidden")
	ErrNotFound          = errors.New("dropbox: not found")
	ErrConflict          = errors.New("dropbox: conflict")
	ErrThrottled         = errors.New("dropbox: rate limited")
	ErrInsufficientSpace = errors.New("dropbox: insufficient space")
	ErrServerError       = errors.New("dropbox: server error")

	// ErrNotLoggedIn means no stored credentials exist. The caller should
	// run the interactive authorization flow.
	ErrNotLoggedIn = errors.New("dropbox: not logged in")

	// ErrAuthFailed means the stored credentials were rejected and a token
	// refresh did not recover them. The stored record has been cleared.
	ErrAuthFailed = errors.New("dropbox: authentication failed")
)

// APIError wraps a sentinel error with the HTTP status code and the
// machine-readable error summary Dropbox returns in its error bodies.
type APIError struct {
	StatusCode int
	Summary    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Summary != "" {
		return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, e.Summary)
	}

	return fmt.Sprintf("dropbox: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code and error summary to a sentinel.
// Dropbox reports most domain errors as 409 with a summary like
// "path/not_found/..", so the summary refines the classification.
func classifyStatus(code int, summary string) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return classifySummary(summary)
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// classifySummary maps a 409 error summary to a sentinel.
func classifySummary(summary string) error {
	switch {
	case strings.Contains(summary, "not_found"):
		return ErrNotFound
	case strings.Contains(summary, "insufficient_space"):
		return ErrInsufficientSpace
	case strings.Contains(summary, "expired_access_token"),
		strings.Contains(summary, "invalid_access_token"):
		return ErrUnauthorized
	default:
		return ErrConflict
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
