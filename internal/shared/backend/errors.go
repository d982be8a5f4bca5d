package backend

import (
	"errors"
	"fmt"
	"net/http"
)

const genericFailure = "Request failed"

var (
	// ErrAuthRequired is returned before any I/O when no bearer token is present.
	ErrAuthRequired = errors.New("authentication required")
	// ErrUnauthorized is returned for HTTP 401; the session teardown hook has
	// already run by the time the caller sees it.
	ErrUnauthorized = errors.New("unauthorized")
)

// ServerError is any other non-success backend response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("backend error [%d]: %s", e.Status, e.Message)
}

// NotFound reports whether the backend answered 404.
func (e *ServerError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Message extracts the text to show a user for err.
func Message(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return "Network error, please try again"
	}
	switch {
	case errors.Is(err, ErrAuthRequired):
		return "Authentication token not found"
	case errors.Is(err, ErrUnauthorized):
		return "Session expired, please log in again"
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
