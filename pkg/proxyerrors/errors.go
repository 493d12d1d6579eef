// Package proxyerrors defines the error taxonomy that crosses the ingress,
// egress, and session layers, and the HTTP status each maps to.
package proxyerrors

import (
	"errors"
	"fmt"
)

// ValidationError is a client-visible, ingress-side rejection. Never
// retried; never counted as a session failure at the transport layer,
// since an invalid request never reaches a provider.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// UnsupportedFeatureError signals the bound provider cannot satisfy a
// capability the request asked for (e.g. streaming on a non-streaming
// dialect adapter).
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("unsupported feature: %s", e.Feature)
}

func NewUnsupportedFeatureError(feature string) *UnsupportedFeatureError {
	return &UnsupportedFeatureError{Feature: feature}
}

func IsUnsupportedFeatureError(err error) bool {
	var e *UnsupportedFeatureError
	return errors.As(err, &e)
}

// RateLimitError is returned by the egress transport when the upstream
// responds 429. RetryAfterSeconds is nil when the upstream did not send a
// Retry-After header.
type RateLimitError struct {
	Provider          string
	RetryAfterSeconds *int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfterSeconds != nil {
		return fmt.Sprintf("%s: rate limit exceeded, retry after %ds", e.Provider, *e.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s: rate limit exceeded", e.Provider)
}

func NewRateLimitError(provider string, retryAfter *int) *RateLimitError {
	return &RateLimitError{Provider: provider, RetryAfterSeconds: retryAfter}
}

func IsRateLimitError(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// ProviderError wraps a non-2xx, non-429 upstream response verbatim.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%d): %s", e.Provider, e.Status, e.Body)
}

func NewProviderError(provider string, status int, body string) *ProviderError {
	return &ProviderError{Provider: provider, Status: status, Body: body}
}

func IsProviderError(err error) bool {
	var e *ProviderError
	return errors.As(err, &e)
}

// ParseError indicates upstream schema drift: the response or a stream
// event could not be decoded against the dialect's expected shape.
type ParseError struct {
	Dialect string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s parse error: %s: %v", e.Dialect, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s parse error: %s", e.Dialect, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func NewParseError(dialect, message string, cause error) *ParseError {
	return &ParseError{Dialect: dialect, Message: message, Cause: cause}
}

func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// TransportError wraps a connection-level failure (dial, read, write
// timeout) after the configured retry budget has been exhausted.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func NewTransportError(cause error) *TransportError {
	return &TransportError{Cause: cause}
}

func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// StatusCode maps an error from this taxonomy to the HTTP status the
// ingress handler should return. Errors outside the taxonomy map to 500.
func StatusCode(err error) int {
	switch {
	case IsValidationError(err):
		return 400
	case IsUnsupportedFeatureError(err):
		return 400
	case IsRateLimitError(err):
		return 429
	case IsProviderError(err):
		var pe *ProviderError
		errors.As(err, &pe)
		if pe.Status >= 400 && pe.Status < 600 {
			return pe.Status
		}
		return 502
	case IsParseError(err):
		return 502
	case IsTransportError(err):
		return 502
	default:
		return 500
	}
}
