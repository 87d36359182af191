package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrRemoteStatus is returned when the agent service answers a request
	// with a non-OK HTTP status or an error status in its JSON envelope.
	ErrRemoteStatus = errors.New("agent service rejected request")
	ErrEmptyText    = errors.New("text is empty")
	ErrEmptyImage   = errors.New("image is empty")
	ErrEmptyAudio   = errors.New("agent service returned no audio")
)

// StatusError carries the details of a rejected request. It matches
// ErrRemoteStatus with errors.Is.
type StatusError struct {
	Endpoint   string
	HTTPStatus int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v (http %d)", e.Endpoint, ErrRemoteStatus, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %v (http %d): %s", e.Endpoint, ErrRemoteStatus, e.HTTPStatus, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrRemoteStatus }
