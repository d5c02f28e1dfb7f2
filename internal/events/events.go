// Package events publishes session lifecycle and message events so other
// processes can follow sessions without polling the HTTP API.
package events

import (
	"context"
	"time"
)

// Topic suffixes. Publishers prepend their configured subject prefix.
const (
	TopicSessionStatus  = "session.status"
	TopicSessionRemoved = "session.removed"
	TopicSessionStalled = "session.stalled"
	TopicMessageSent    = "message.sent"
	TopicMessageFailed  = "message.failed"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "wamesh"

// SessionStatusChanged is published on every lifecycle transition.
type SessionStatusChanged struct {
	SessionID     string    `json:"session_id"`
	ClientID      string    `json:"client_id"`
	From          string    `json:"from"`
	Status        string    `json:"status"`
	PhoneIdentity string    `json:"phone_identity,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SessionRemoved is published when a session leaves the live map.
type SessionRemoved struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Reasons carried by SessionRemoved.
const (
	RemovedDeleted   = "deleted"
	RemovedLoggedOut = "logged_out"
)

// SessionStalled is published when a session stops reconnecting after
// exhausting its attempt budget. The session stays registered.
type SessionStalled struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	Status    string    `json:"status"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageAttempted is published after every send attempt.
type MessageAttempted struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	To        string    `json:"to"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

func subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}
