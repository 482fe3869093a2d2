package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when a retry cap is configured and every
	// attempt failed with a retryable error.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 401 and 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassUnauthorized represents a 401 response: the token was rejected.
	ErrorClassUnauthorized ErrorClass = "unauthorized"

	// ErrorClassServer represents 5xx server errors and any other non-2xx
	// status outside the 4xx range.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a response body that did not parse.
	ErrorClassDecode ErrorClass = "decode"
)

// APIError is a non-2xx Helix response.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	// Body is the raw response body, kept for diagnostics.
	Body string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("helix %s error (status %d %s), body:\n\n%s",
			e.Class, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("helix %s error (status %d %s)",
		e.Class, e.StatusCode, http.StatusText(e.StatusCode))
}

// Unauthorized reports whether the server rejected the bearer token.
func (e *APIError) Unauthorized() bool {
	return e.Class == ErrorClassUnauthorized
}

// DecodeError is returned when a successful response does not decode into
// the expected shape.
type DecodeError struct {
	Body string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v, body:\n\n%s", e.Err, e.Body)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ConfigError reports invalid construction input.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// classifyStatus maps a non-2xx status code to its error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusUnauthorized:
		return ErrorClassUnauthorized
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	default:
		return ErrorClassServer
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassNetwork, ErrorClassRateLimit:
		return true
	default:
		// client, unauthorized and decode errors are surfaced to the caller
		return false
	}
}
