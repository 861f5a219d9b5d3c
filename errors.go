package wschat

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedFrame is returned when a frame or its JSON payload cannot be understood.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrTransport signals that the connection to the broker could not be established or was lost.
	ErrTransport = errors.New("transport error")
	// ErrNotJoined is returned by Send when the session is not in the Joined state.
	ErrNotJoined = errors.New("session not joined")
	// ErrAlreadyJoined is returned by Join when a session is already active.
	ErrAlreadyJoined = errors.New("session already joined")
	// ErrIdentityMismatch is returned when rejoining a failed session under a different name.
	ErrIdentityMismatch = errors.New("identity does not match the session identity")
	// ErrInvalidIdentity is returned when the display name is blank or too long.
	ErrInvalidIdentity = errors.New("invalid identity")

	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("program exit")
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrHandshakeTimeout = errors.New("broker handshake timed out")
	ErrHeartbeatTimeout = errors.New("broker heart-beat timed out")
)

// BrokerError is built from a STOMP ERROR frame sent by the broker.
type BrokerError struct {
	Message string
	Details string
}

func (e BrokerError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("broker error: %s", e.Message)
	}
	return fmt.Sprintf("broker error: %s: %s", e.Message, e.Details)
}

func (e BrokerError) Unwrap() error { return ErrTransport }

func newBrokerError(f Frame) BrokerError {
	msg, _ := f.Header(HeaderMessage)
	return BrokerError{Message: msg, Details: string(f.Body)}
}

// transportError marks its cause as a transport failure while keeping it
// reachable through errors.Is and errors.As.
type transportError struct {
	cause error
}

func (e transportError) Error() string { return "transport error: " + e.cause.Error() }

func (e transportError) Unwrap() error { return e.cause }

func (e transportError) Is(target error) bool { return target == ErrTransport }

func asTransportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return transportError{cause: err}
}
