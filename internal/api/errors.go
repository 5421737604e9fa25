package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/roary/feed/internal/feed"
)

// Error represents an API error
type Error struct {
	Code    int
	Message string
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

var (
	errAuthRequired = NewError(http.StatusUnauthorized, "Authentication required")
	errInternal     = NewError(http.StatusInternalServerError, "Internal server error")
)

// toError maps engine errors to HTTP errors. Store details never reach the client.
func toError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var verr *feed.ValidationError
	if errors.As(err, &verr) {
		return NewError(http.StatusBadRequest, verr.Reason)
	}
	if errors.Is(err, feed.ErrNotFound) {
		return NewError(http.StatusNotFound, "Post not found")
	}
	return errInternal
}
