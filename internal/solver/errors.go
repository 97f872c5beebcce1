package solver

import (
	"fmt"
	"time"
)

// APIError represents a structured error response from a solve service.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		if e.Code != "" {
			if e.RequestID != "" {
				return fmt.Sprintf("api error: status=%d code=%s request_id=%s message=%s", e.StatusCode, e.Code, e.RequestID, e.Message)
			}
			return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
		}
		if e.RequestID != "" {
			return fmt.Sprintf("api error: status=%d request_id=%s message=%s", e.StatusCode, e.RequestID, e.Message)
		}
		return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("api error: status=%d request_id=%s", e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("api error: status=%d", e.StatusCode)
}

// AuthError indicates authentication/authorization failures (401/403).
type AuthError struct{ *APIError }

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.APIError.Error())
}

// RateLimitError indicates 429 responses and may include a Retry-After.
type RateLimitError struct {
	*APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: wait about %ds before retrying: %s", int(e.RetryAfter.Seconds()), e.APIError.Error())
	}
	return fmt.Sprintf("rate limited: %s", e.APIError.Error())
}

// BadRequestError indicates the service rejected the program (400/422).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// ServerError indicates 5xx errors from the solve service.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("solver service error: %s", e.APIError.Error()) }

// UnreachableError indicates the solve service could not be contacted.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("solver unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("solver unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// UnknownStatusError is returned when a service reports a status outside
// optimal, infeasible and other.
type UnknownStatusError struct{ Status string }

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("solver returned unknown status %q", e.Status)
}
