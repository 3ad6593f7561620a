// Package ringerr defines the structured error kinds the data plane raises,
// as catalogued in the design's error handling section.
package ringerr

import "fmt"

// Code identifies one of the error kinds the core raises or propagates.
type Code int

const (
	// Unknown is the zero value; never constructed directly.
	Unknown Code = iota
	// QuorumNotAchieved means fewer than Q replicas acknowledged a PUT.
	QuorumNotAchieved
	// NotFound means no replica holds the key.
	NotFound
	// PeerTimeout means a single replica's request exceeded its deadline.
	PeerTimeout
	// PeerNotConnected means the target is in the ring but has no live link.
	PeerNotConnected
	// RingEmpty means an operation was attempted before any node joined.
	RingEmpty
	// JoinFailed means no seed accepted a bootstrap request.
	JoinFailed
)

func (c Code) String() string {
	switch c {
	case QuorumNotAchieved:
		return "quorum_not_achieved"
	case NotFound:
		return "not_found"
	case PeerTimeout:
		return "peer_timeout"
	case PeerNotConnected:
		return "peer_not_connected"
	case RingEmpty:
		return "ring_empty"
	case JoinFailed:
		return "join_failed"
	default:
		return "unknown"
	}
}

// Error is a structured error carrying a Code alongside a human message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from an error, or Unknown if it isn't one of ours.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Unknown
}
