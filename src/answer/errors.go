package answer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/openai/openai-go"
)

// AuthError means the API credential is missing, malformed or rejected.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error: %s: %v", e.Reason, e.Err)
	}
	return "auth error: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError means the endpoint could not be reached or did not answer in time.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ModelError means the endpoint answered but the response is unusable.
type ModelError struct {
	Reason string
	Err    error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model error: %s: %v", e.Reason, e.Err)
	}
	return "model error: " + e.Reason
}

func (e *ModelError) Unwrap() error { return e.Err }

// classify maps a failed SDK call onto the error taxonomy.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch code := apiErr.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &AuthError{Reason: fmt.Sprintf("endpoint rejected the API key (HTTP %d)", code), Err: err}
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
			return &NetworkError{Err: err}
		default:
			return &ModelError{Reason: fmt.Sprintf("request failed (HTTP %d)", code), Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &NetworkError{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{Err: err}
	}

	return &ModelError{Reason: "unusable response", Err: err}
}
