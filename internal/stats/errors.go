package stats

import (
	"errors"
	"fmt"
)

// ErrMalformed marks a response that parsed but lacks a usable stats payload.
var ErrMalformed = errors.New("malformed stats payload")

// APIError is returned when the endpoint answers with a non-zero code.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stats api code %d", e.Code)
	}
	return fmt.Sprintf("stats api code %d: %s", e.Code, e.Message)
}

// StatusError is returned for non-200 HTTP responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}
