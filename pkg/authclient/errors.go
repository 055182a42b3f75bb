package authclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for processed transport errors.
const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeRateLimited  = "rate_limited"
	CodeServerError  = "server_error"
	CodeNetworkError = "network_error"
)

// APIError is the processed form of a failed transport call. Status is zero
// and Code is network_error when no response was received at all.
type APIError struct {
	Message  string
	Status   int
	Code     string
	Endpoint string
	Details  map[string]any
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// codeForStatus maps an HTTP status to a processed error code.
func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return CodeValidation
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusTooManyRequests:
		return CodeRateLimited
	case status >= 500:
		return CodeServerError
	default:
		return CodeServerError
	}
}

// networkError wraps a transport-level failure (no HTTP response).
func networkError(endpoint string, err error) *APIError {
	return &APIError{
		Message:  err.Error(),
		Code:     CodeNetworkError,
		Endpoint: endpoint,
	}
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
