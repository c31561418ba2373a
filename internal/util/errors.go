// Package util provides shared error types and HTTP helpers for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigError, UpstreamError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTimeout          = errors.New("timeout")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
	ErrUpstreamUnavail  = errors.New("upstream unavailable")
	ErrConfigInvalid    = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error. A failed config
// load or snapshot build surfaces as a ConfigError and never replaces
// the currently served snapshot.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// RouteNotFoundError is returned when no route matches a request.
type RouteNotFoundError struct {
	Host   string
	Path   string
	Method string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s%s", e.Method, e.Host, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, host, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Host: host, Path: path}
}

// UpstreamError represents a failure talking to a backend host.
type UpstreamError struct {
	Backend string
	Message string
	Timeout bool
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s error: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream %s error: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrUpstreamUnavail {
		return true
	}
	if target == ErrTimeout && e.Timeout {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(backend, message string) *UpstreamError {
	return &UpstreamError{Backend: backend, Message: message}
}

// NewUpstreamErrorWithCause creates a new UpstreamError with a cause.
func NewUpstreamErrorWithCause(backend, message string, cause error) *UpstreamError {
	return &UpstreamError{Backend: backend, Message: message, Cause: cause}
}

// NewUpstreamTimeoutError creates an UpstreamError marking a timed-out call.
func NewUpstreamTimeoutError(backend string, cause error) *UpstreamError {
	return &UpstreamError{Backend: backend, Message: "request timed out", Timeout: true, Cause: cause}
}

// RateLimitError represents a denied request whose quota is exhausted.
// It is distinct from ErrStoreUnavailable: a RateLimitError means the
// limiter made a decision, not that it failed to decide.
type RateLimitError struct {
	Key        string
	Limit      int64
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Key, e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(key string, limit int64, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Key: key, Limit: limit, RetryAfter: retryAfter}
}

// PluginError represents a filter failure during pipeline execution.
// StatusHint, when non-zero, selects the HTTP status of the resulting
// error response; otherwise the executor maps it to 500.
type PluginError struct {
	Plugin     string
	StatusHint int
	Cause      error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin %s failed: %v", e.Plugin, e.Cause)
	}
	return fmt.Sprintf("plugin %s failed", e.Plugin)
}

// Unwrap returns the underlying error.
func (e *PluginError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *PluginError) Is(target error) bool {
	_, ok := target.(*PluginError)
	return ok || errors.Is(e.Cause, target)
}

// NewPluginError creates a new PluginError.
func NewPluginError(plugin string, cause error) *PluginError {
	return &PluginError{Plugin: plugin, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable returns true if a failed upstream call may be retried
// against another backend host.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUpstreamUnavail) {
		return true
	}

	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}
