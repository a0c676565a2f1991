package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailReason categorizes why a provider request failed, driving retry
// decisions inside each adapter.
type FailReason string

const (
	// FailBilling indicates payment or quota issues (HTTP 402).
	FailBilling FailReason = "billing"

	// FailRateLimit indicates throttling (HTTP 429).
	FailRateLimit FailReason = "rate_limit"

	// FailAuth indicates authentication failure (HTTP 401, 403).
	FailAuth FailReason = "auth"

	// FailTimeout indicates a request timeout.
	FailTimeout FailReason = "timeout"

	// FailServer indicates server-side issues (HTTP 5xx).
	FailServer FailReason = "server_error"

	// FailInvalidRequest indicates client-side issues (HTTP 400).
	FailInvalidRequest FailReason = "invalid_request"

	// FailModelUnavailable indicates the model is not available.
	FailModelUnavailable FailReason = "model_unavailable"

	// FailContentFilter indicates output blocked by safety filters.
	FailContentFilter FailReason = "content_filter"

	// FailUnknown indicates an unclassified error.
	FailUnknown FailReason = "unknown"
)

// IsRetryable reports whether retrying the request may succeed.
func (r FailReason) IsRetryable() bool {
	switch r {
	case FailRateLimit, FailTimeout, FailServer:
		return true
	default:
		return false
	}
}

// Error is a structured provider failure with the context retry logic and
// operators need.
type Error struct {
	Reason   FailReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified provider error.
func NewError(provider, model string, cause error) *Error {
	e := &Error{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailUnknown,
	}
	if cause != nil {
		e.Message = cause.Error()
		e.Reason = Classify(cause)
	}
	return e
}

// WithStatus sets the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	e.Reason = classifyStatus(status)
	return e
}

// AsError extracts an *Error from a chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether any error, classified or raw, warrants a retry.
func IsRetryable(err error) bool {
	if pe, ok := AsError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return Classify(err).IsRetryable()
}

// Classify inspects an error's text and returns the matching reason.
func Classify(err error) FailReason {
	if err == nil {
		return FailUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return FailTimeout
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return FailRateLimit
	case strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"),
		strings.Contains(errStr, "invalid_api_key"),
		strings.Contains(errStr, "authentication"),
		strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"):
		return FailAuth
	case strings.Contains(errStr, "billing"),
		strings.Contains(errStr, "payment"),
		strings.Contains(errStr, "quota"),
		strings.Contains(errStr, "402"):
		return FailBilling
	case strings.Contains(errStr, "content_filter"),
		strings.Contains(errStr, "content policy"),
		strings.Contains(errStr, "safety"),
		strings.Contains(errStr, "blocked"):
		return FailContentFilter
	case strings.Contains(errStr, "model not found"),
		strings.Contains(errStr, "model_not_found"),
		strings.Contains(errStr, "does not exist"),
		strings.Contains(errStr, "unavailable"):
		return FailModelUnavailable
	case strings.Contains(errStr, "internal server"),
		strings.Contains(errStr, "server error"),
		strings.Contains(errStr, "500"),
		strings.Contains(errStr, "502"),
		strings.Contains(errStr, "503"),
		strings.Contains(errStr, "504"):
		return FailServer
	default:
		return FailUnknown
	}
}

func classifyStatus(status int) FailReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailAuth
	case status == http.StatusPaymentRequired:
		return FailBilling
	case status == http.StatusTooManyRequests:
		return FailRateLimit
	case status == http.StatusBadRequest:
		return FailInvalidRequest
	case status == http.StatusNotFound:
		return FailModelUnavailable
	case status >= 500:
		return FailServer
	default:
		return FailUnknown
	}
}
