package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MessageStatus is the outcome of a send attempt.
type MessageStatus string

const (
	MessageSent   MessageStatus = "sent"
	MessageFailed MessageStatus = "failed"
)

// Message log limits.
const (
	DefaultLogLimit      = 100
	MaxLogLimit          = 1000
	DefaultRetentionDays = 90
)

// MessageLog records one outbound send attempt.
type MessageLog struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	ClientID  string        `json:"client_id"`
	To        string        `json:"to_number"`
	Message   string        `json:"message"`
	Status    MessageStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewMessageLogID returns a time-ordered log id. ULIDs sort lexically by
// creation time, which the embedded store relies on for range scans.
func NewMessageLogID(at time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(at), ulid.Monotonic(rand.Reader, 0))
	return strings.ToLower(id.String())
}

// LogFilter narrows List and Stats queries. Zero values match everything.
type LogFilter struct {
	SessionID string
	ClientID  string
	To        string
	Status    MessageStatus
	Start     time.Time
	End       time.Time
	Limit     int
	Offset    int
}

// Normalize clamps Limit and Offset into their valid ranges.
func (f LogFilter) Normalize() LogFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLogLimit
	}
	if f.Limit > MaxLogLimit {
		f.Limit = MaxLogLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether entry satisfies the filter, ignoring paging.
func (f LogFilter) Match(entry *MessageLog) bool {
	if f.SessionID != "" && entry.SessionID != f.SessionID {
		return false
	}
	if f.ClientID != "" && entry.ClientID != f.ClientID {
		return false
	}
	if f.To != "" && entry.To != f.To {
		return false
	}
	if f.Status != "" && entry.Status != f.Status {
		return false
	}
	if !f.Start.IsZero() && entry.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && entry.Timestamp.After(f.End) {
		return false
	}
	return true
}

// LogStats summarizes send attempts.
type LogStats struct {
	Total  int64 `json:"total"`
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Add counts one entry.
func (s *LogStats) Add(status MessageStatus) {
	s.Total++
	switch status {
	case MessageSent:
		s.Sent++
	case MessageFailed:
		s.Failed++
	}
}
