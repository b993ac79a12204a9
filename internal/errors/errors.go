// internal/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind is the discriminant of the error taxonomy as delivered to stream clients.
type Kind string

const (
	KindRateLimit Kind = "rate_limit"
	KindAuth      Kind = "auth"
	KindAPI       Kind = "api"
	KindRequest   Kind = "request"
	KindStorage   Kind = "storage"
	KindCanceled  Kind = "canceled"
	KindInternal  Kind = "internal"
)

// RetryAfterFallback is used when GitHub signals a rate limit without a reset time.
const RetryAfterFallback = 60

// RateLimitError is returned when GitHub refuses a request because the quota is exhausted.
type RateLimitError struct {
	RetryAfterSeconds int
	Message           string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// AuthError is returned when GitHub rejects the access token. The user must re-authenticate.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return "github token expired or invalid"
	}
	return e.Message
}

// APIError is any other non-success response from GitHub.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (%d): %s", e.Status, e.Message)
}

// RequestError wraps a transport or decode failure.
type RequestError struct {
	Cause error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("github request failed: %v", e.Cause)
}

func (e *RequestError) Unwrap() error { return e.Cause }

// StorageError wraps any persistence failure.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }

// Storage wraps err into a StorageError unless it already is one.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Cause: err}
}

// Classified is the flattened form of an error carried by a terminal stream event.
type Classified struct {
	Kind              Kind   `json:"kind"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
	Status            int    `json:"status,omitempty"`
}

// Classify maps err onto the closed taxonomy. Unknown errors become KindInternal.
func Classify(err error) Classified {
	var (
		rateLimit *RateLimitError
		auth      *AuthError
		api       *APIError
		storage   *StorageError
		request   *RequestError
	)
	switch {
	case err == nil:
		return Classified{Kind: KindInternal, Message: "unknown error"}
	case stderrors.As(err, &rateLimit):
		return Classified{Kind: KindRateLimit, Message: rateLimit.Error(), RetryAfterSeconds: rateLimit.RetryAfterSeconds}
	case stderrors.As(err, &auth):
		return Classified{Kind: KindAuth, Message: auth.Error()}
	case stderrors.As(err, &api):
		return Classified{Kind: KindAPI, Message: api.Error(), Status: api.Status}
	case stderrors.As(err, &storage):
		return Classified{Kind: KindStorage, Message: storage.Error()}
	case stderrors.Is(err, context.Canceled):
		return Classified{Kind: KindCanceled, Message: err.Error()}
	case stderrors.As(err, &request):
		return Classified{Kind: KindRequest, Message: request.Error()}
	default:
		return Classified{Kind: KindInternal, Message: err.Error()}
	}
}

// ErrInvalidConfig is returned when a configuration value is out of range.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
