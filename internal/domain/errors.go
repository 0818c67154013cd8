package domain

import (
	"errors"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates an identifier resolved to nothing
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Is allows errors.Is() to match against ErrNotFound
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Is allows errors.Is() to match against ErrValidation
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")

	// ErrFetchFailure marks a backend error while loading children or resolving a path.
	ErrFetchFailure = errors.New("fetch failed")

	// ErrCacheMiss is the fail-open signal of the cache layer. It never leaves the loader.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInconsistentChunk means a chunk references child records that are missing or expired.
	// Treated exactly like ErrCacheMiss.
	ErrInconsistentChunk = errors.New("inconsistent child chunk")
)

// FetchError wraps a transport/backend failure
type FetchError struct {
	Op    string // children, path, stats
	Cause error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.Cause == nil {
		return "fetch " + e.Op + " failed"
	}
	return "fetch " + e.Op + ": " + e.Cause.Error()
}

// Unwrap exposes the transport cause
func (e *FetchError) Unwrap() error { return e.Cause }

// Is allows errors.Is() to match against ErrFetchFailure
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailure }

// StatusCode implements the HTTPError interface
func (e *FetchError) StatusCode() int { return http.StatusBadGateway }

// NewFetchError wraps cause unless it already is a domain error the caller must see as-is.
func NewFetchError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrNotFound) || errors.Is(cause, ErrFetchFailure) {
		return cause
	}
	return &FetchError{Op: op, Cause: cause}
}
