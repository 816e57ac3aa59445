package core

import (
	"errors"
	"fmt"
)

// Protocol error reasons.
const (
	ReasonMalformedJSON = "malformed_json"
	ReasonNotObject     = "not_object"
	ReasonInvalidUTF8   = "invalid_utf8"
	ReasonBinaryFrame   = "binary_frame"
	ReasonRateLimited   = "rate_limited"
)

var (
	// ErrHubClosed is returned when a session tries to join during shutdown.
	ErrHubClosed = errors.New("hub closed")
	// ErrSessionClosed is returned for operations on a session past OPEN.
	ErrSessionClosed = errors.New("session closed")
)

// ProtocolError rejects a single inbound frame. The connection stays open.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s): %v", e.Reason, e.Err)
	}
	return "protocol error (" + e.Reason + ")"
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// BusError is a failed round-trip to the backplane. It is fatal to the
// goroutine that issued it.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

func protocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

func busError(op string, err error) *BusError {
	return &BusError{Op: op, Err: err}
}

// IsProtocolError reports whether err rejects only the current frame.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
