package image

import (
	"errors"
	"fmt"
)

var ErrNoArtifacts = errors.New("response contained no artifacts")

// ValidationError is returned before any request is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// APIError is a non-2xx answer from the generation endpoint.
type APIError struct {
	StatusCode int    `json:"-"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	Message    string `json:"message"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stability api: status %d: %s: %s", e.StatusCode, e.Name, e.Message)
	}
	return fmt.Sprintf("stability api: status %d: %s", e.StatusCode, e.Body)
}

// DecodeError means the endpoint answered 2xx but the body could not be mapped to an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding generation response: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
