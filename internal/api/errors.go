package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRequestFailed matches every error returned by the client.
	ErrRequestFailed = errors.New("request failed")
	// ErrMalformedResponse marks a body that could not be decoded into the expected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// RequestError is returned when a backend call fails. Status is 0 when no
// response was received.
type RequestError struct {
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrRequestFailed) match any RequestError.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

func (e *RequestError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// IsUnauthorized reports whether the backend rejected the session.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
