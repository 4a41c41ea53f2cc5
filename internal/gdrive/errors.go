// Package gdrive provides an HTTP client for the Google Drive v3 REST API
// with bounded retry, forced token refresh on 401, and error classification.
package gdrive

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Sentinel errors for response classification.
// Use errors.Is(err, gdrive.ErrNotFound) to check.
var (
	ErrAuthRequired  = errors.New("gdrive: authorization required")
	ErrBadRequest    = errors.New("gdrive: bad request")
	ErrUnauthorized  = errors.New("gdrive: unauthorized")
	ErrForbidden     = errors.New("gdrive: forbidden")
	ErrNotFound      = errors.New("gdrive: not found")
	ErrConflict      = errors.New("gdrive: conflict")
	ErrThrottled     = errors.New("gdrive: throttled")
	ErrQuotaExceeded = errors.New("gdrive: storage quota exceeded")
	ErrServerError   = errors.New("gdrive: server error")
)

// Drive error reasons (error.errors[0].reason) that change classification.
const (
	reasonRateLimit     = "rateLimitExceeded"
	reasonUserRateLimit = "userRateLimitExceeded"
	reasonStorageQuota  = "storageQuotaExceeded"
	reasonQuota         = "quotaExceeded"
	reasonDailyLimit    = "dailyLimitExceeded"
)

// APIError wraps a sentinel error with the HTTP status code, the Drive error
// reason, and the API error message.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("gdrive: HTTP %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}

	return fmt.Sprintf("gdrive: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// newAPIError builds an APIError from a non-2xx response body. Drive wraps
// failures as {"error":{"code":..,"message":..,"errors":[{"reason":..}]}};
// bodies that are not JSON are kept verbatim as the message.
func newAPIError(code int, body []byte) *APIError {
	reason := gjson.GetBytes(body, "error.errors.0.reason").String()
	if reason == "" {
		reason = gjson.GetBytes(body, "error.status").String()
	}

	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = string(body)
	}

	return &APIError{
		StatusCode: code,
		Reason:     reason,
		Message:    msg,
		Err:        classify(code, reason),
	}
}

// classify maps a status code and Drive reason to a sentinel error.
// Returns nil for 2xx success codes.
func classify(code int, reason string) error {
	switch reason {
	case reasonStorageQuota, reasonQuota, reasonDailyLimit:
		return ErrQuotaExceeded
	case reasonRateLimit, reasonUserRateLimit:
		return ErrThrottled
	}

	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether a failed response should be retried. Quota
// errors are final even when Drive reports them with a retryable status.
func isRetryable(code int, reason string) bool {
	switch reason {
	case reasonStorageQuota, reasonQuota, reasonDailyLimit:
		return false
	case reasonRateLimit, reasonUserRateLimit:
		return true
	}

	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return code >= http.StatusInternalServerError
	}
}
