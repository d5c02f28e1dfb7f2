package domain

import (
	"errors"
	"fmt"
	"time"
)

// EventKind identifies a transport event.
type EventKind uint8

const (
	// EventPairingChallenge carries a new pairing challenge.
	EventPairingChallenge EventKind = iota + 1
	// EventConnectionState reports the connection opened or closed.
	EventConnectionState
	// EventInboundActivity reports any inbound traffic.
	EventInboundActivity
	// EventCredentialsRotated carries new key material to persist.
	EventCredentialsRotated
)

func (k EventKind) String() string {
	switch k {
	case EventPairingChallenge:
		return "pairing-challenge"
	case EventConnectionState:
		return "connection-state"
	case EventInboundActivity:
		return "inbound-activity"
	case EventCredentialsRotated:
		return "credentials-rotated"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// ConnectionState is the state carried by EventConnectionState.
type ConnectionState uint8

const (
	ConnectionOpen ConnectionState = iota + 1
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionOpen:
		return "open"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportEvent is one entry of a session's ordered event stream.
type TransportEvent struct {
	Kind EventKind

	// Challenge is set for EventPairingChallenge.
	Challenge string

	// State, Identity and Err are set for EventConnectionState.
	// Identity is the transport's own address once open; Err explains a close.
	State    ConnectionState
	Identity string
	Err      error

	// Credentials is set for EventCredentialsRotated.
	Credentials []byte

	At time.Time
}

// PairingEvent builds an EventPairingChallenge.
func PairingEvent(challenge string) TransportEvent {
	return TransportEvent{Kind: EventPairingChallenge, Challenge: challenge, At: time.Now()}
}

// OpenEvent builds an open EventConnectionState.
func OpenEvent(identity string) TransportEvent {
	return TransportEvent{Kind: EventConnectionState, State: ConnectionOpen, Identity: identity, At: time.Now()}
}

// ClosedEvent builds a closed EventConnectionState.
func ClosedEvent(err error) TransportEvent {
	return TransportEvent{Kind: EventConnectionState, State: ConnectionClosed, Err: err, At: time.Now()}
}

// ActivityEvent builds an EventInboundActivity.
func ActivityEvent() TransportEvent {
	return TransportEvent{Kind: EventInboundActivity, At: time.Now()}
}

// CredentialsEvent builds an EventCredentialsRotated.
func CredentialsEvent(data []byte) TransportEvent {
	return TransportEvent{Kind: EventCredentialsRotated, Credentials: data, At: time.Now()}
}

// Close codes and reasons reported by the network.
const (
	CloseCodeLoggedOut   = 401
	CloseReasonLoggedOut = "logged_out"
)

// CloseError describes why a transport connection closed.
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	msg := fmt.Sprintf("connection closed (code=%d", e.Code)
	if e.Reason != "" {
		msg += ", reason=" + e.Reason
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CloseError) Unwrap() error { return e.Err }

// LoggedOut reports whether the close explicitly signals a logged out account.
func (e *CloseError) LoggedOut() bool {
	return e.Code == CloseCodeLoggedOut || e.Reason == CloseReasonLoggedOut
}

// ErrLoggedOut can be returned or wrapped by transports to mark a permanent logout.
var ErrLoggedOut = &CloseError{Code: CloseCodeLoggedOut, Reason: CloseReasonLoggedOut}

// IsPermanentLogout classifies a close error. Anything that does not
// explicitly signal a logout is transient.
func IsPermanentLogout(err error) bool {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.LoggedOut()
	}
	return false
}
