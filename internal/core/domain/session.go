package domain

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// SessionIDPrefix is the prefix for generated session IDs.
	SessionIDPrefix = "sess-"

	// MaxSessionIDLength bounds caller-supplied IDs; they name directories.
	MaxSessionIDLength = 128

	// MaxClientIDLength bounds the owner tag.
	MaxClientIDLength = 128

	// UnknownClientID is used when a restored session has no readable metadata.
	UnknownClientID = "unknown"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Status is the lifecycle state of a session.
type Status uint8

const (
	// StatusConnecting is the initial state: transport started, handshake in progress.
	StatusConnecting Status = iota
	// StatusAwaitingScan means the transport surfaced a pairing challenge.
	StatusAwaitingScan
	// StatusConnected means the handshake completed and the phone identity is known.
	StatusConnected
	// StatusDisconnected is terminal; the record is removed right after.
	StatusDisconnected
)

var statusNames = [...]string{
	StatusConnecting:   "connecting",
	StatusAwaitingScan: "awaiting-scan",
	StatusConnected:    "connected",
	StatusDisconnected: "disconnected",
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusConnecting, StatusAwaitingScan, StatusConnected, StatusDisconnected}
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// IsValid reports whether s is one of the four defined states.
func (s Status) IsValid() bool {
	return int(s) < len(statusNames)
}

// ParseStatus converts the wire name back into a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, ErrInvalidArgument.WithDetails("unknown status " + name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.IsValid() {
		return nil, ErrInvalidArgument.WithDetails(s.String())
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Session is the observable state of one messaging session.
//
// A Session is owned and mutated by the session manager only; callers
// receive value copies. The transition methods keep PairingChallenge set
// exactly while Status is StatusAwaitingScan.
type Session struct {
	// ID is the immutable session identifier.
	ID string `json:"session_id"`

	// ClientID is the caller-supplied owner tag; not unique.
	ClientID string `json:"client_id"`

	Status Status `json:"status"`

	// PairingChallenge is the token to scan, present only while awaiting a scan.
	PairingChallenge string `json:"pairing_challenge,omitempty"`

	// PhoneIdentity is the account user id, known once connected.
	PhoneIdentity string `json:"phone_identity,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// NewSession creates a record in StatusConnecting.
func NewSession(id, clientID string, createdAt time.Time) Session {
	return Session{
		ID:           id,
		ClientID:     clientID,
		Status:       StatusConnecting,
		CreatedAt:    createdAt,
		LastActivity: createdAt,
	}
}

// ApplyPairingChallenge moves the session to StatusAwaitingScan. A fresh
// challenge replaces the previous one.
func (s *Session) ApplyPairingChallenge(challenge string, at time.Time) {
	s.Status = StatusAwaitingScan
	s.PairingChallenge = challenge
	s.LastActivity = at
}

// MarkConnected moves the session to StatusConnected. An empty identity
// keeps the one already captured.
func (s *Session) MarkConnected(identity string, at time.Time) {
	s.Status = StatusConnected
	s.PairingChallenge = ""
	if identity != "" {
		s.PhoneIdentity = identity
	}
	s.LastActivity = at
}

// MarkReconnecting puts the session back into StatusConnecting while the
// transport is restarted in place.
func (s *Session) MarkReconnecting() {
	s.Status = StatusConnecting
	s.PairingChallenge = ""
}

// MarkDisconnected moves the session to its terminal state.
func (s *Session) MarkDisconnected() {
	s.Status = StatusDisconnected
	s.PairingChallenge = ""
}

// Touch bumps LastActivity without a state transition.
func (s *Session) Touch(at time.Time) {
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
}

// CheckInvariants reports the first violated record invariant, if any.
func (s Session) CheckInvariants() error {
	if !s.Status.IsValid() {
		return ErrInvalidArgument.WithDetails("invalid status " + s.Status.String())
	}
	if (s.PairingChallenge != "") != (s.Status == StatusAwaitingScan) {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("pairing challenge present=%t with status %s",
			s.PairingChallenge != "", s.Status))
	}
	return nil
}

// Metadata is the manager-owned file of a credential bundle. Field names
// match the on-disk format written by earlier deployments.
type Metadata struct {
	ClientID  string    `json:"clientId"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateSessionID generates a new session ID using ULID.
// Format: sess-{ulid_lowercase}.
func GenerateSessionID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrInternalServer.WithCause(err)
	}
	return SessionIDPrefix + strings.ToLower(id.String()), nil
}

// ValidateSessionID checks a caller-supplied session ID. IDs double as
// directory names so path separators and dot-only names are rejected.
func ValidateSessionID(id string) error {
	switch {
	case id == "":
		return ErrMissingArgument.WithDetails("session_id is empty")
	case len(id) > MaxSessionIDLength:
		return ErrInvalidArgument.WithDetails("session_id exceeds 128 characters")
	case !sessionIDPattern.MatchString(id):
		return ErrInvalidArgument.WithDetails("session_id may only contain letters, digits, '.', '_' and '-'")
	}
	return nil
}

// ValidateClientID checks the owner tag supplied on creation.
func ValidateClientID(clientID string) error {
	if strings.TrimSpace(clientID) == "" {
		return ErrMissingArgument.WithDetails("client_id is required")
	}
	if len(clientID) > MaxClientIDLength {
		return ErrInvalidArgument.WithDetails("client_id exceeds 128 characters")
	}
	return nil
}
