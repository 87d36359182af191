package events

import (
	"errors"
	"fmt"
)

var (
	ErrMissingType    = errors.New("missing type discriminator")
	ErrUnknownType    = errors.New("unknown message type")
	ErrMissingContent = errors.New("missing content")
	ErrEmptyAudio     = errors.New("empty audio payload")
)

// DecodeError describes a raw message that could not be turned into a
// StreamEvent.
type DecodeError struct {
	// Type is the discriminator found in the message, if any.
	Type string
	Raw  []byte
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode stream message: %v", e.Err)
	}
	return fmt.Sprintf("decode stream message of type %q: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RemoteError is an error the agent service reported in-band on the stream.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "agent service error: " + e.Message
}
