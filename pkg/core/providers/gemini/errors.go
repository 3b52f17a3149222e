package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// ErrorType categorizes Gemini Live failures.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// Error is a classified Gemini failure. The original error stays reachable
// through errors.Unwrap.
type Error struct {
	Op      string
	Type    ErrorType
	Message string
	Code    string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gemini %s: %s: %s (code: %s)", e.Op, e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("gemini %s: %s: %s", e.Op, e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether a later attempt may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI:
		return true
	default:
		return false
	}
}

// classify wraps err with its ErrorType. API errors are mapped by status;
// anything else is a provider error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return &Error{Op: op, Type: ErrProvider, Message: err.Error(), Err: err}
	}
	return &Error{
		Op:      op,
		Type:    typeFor(apiErr.Status, apiErr.Code),
		Message: apiErr.Message,
		Code:    apiErr.Status,
		Err:     err,
	}
}

func typeFor(status string, httpCode int) ErrorType {
	switch httpCode {
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusServiceUnavailable:
		return ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthentication
	}
	switch status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return ErrInvalidRequest
	case "UNAUTHENTICATED":
		return ErrAuthentication
	case "PERMISSION_DENIED":
		return ErrPermission
	case "NOT_FOUND":
		return ErrNotFound
	case "RESOURCE_EXHAUSTED":
		return ErrRateLimit
	case "INTERNAL":
		return ErrAPI
	case "UNAVAILABLE":
		return ErrOverloaded
	default:
		return ErrProvider
	}
}
