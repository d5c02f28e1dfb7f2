package command

import "time"

// Session is the server's view of a session.
type Session struct {
	ID               string    `json:"session_id"`
	ClientID         string    `json:"client_id"`
	Status           string    `json:"status"`
	PhoneIdentity    string    `json:"phone_identity,omitempty"`
	PairingChallenge string    `json:"pairing_challenge,omitempty" table:"-"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity" table:"wide"`
}

// PairingChallenge is returned by GET /api/sessions/{id}/qr.
type PairingChallenge struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"qr_code"`
	Status    string `json:"status"`
}

// SendResult is returned by POST /api/messages/send.
type SendResult struct {
	SessionID string    `json:"session_id"`
	To        string    `json:"to"`
	SentAt    time.Time `json:"sent_at"`
}

// MessageLog is one recorded send attempt.
type MessageLog struct {
	ID        string    `json:"id" table:"wide"`
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id" table:"wide"`
	To        string    `json:"to_number"`
	Message   string    `json:"message" table:"wide"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStats aggregates send attempts.
type MessageStats struct {
	Total  int64 `json:"total"`
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Health is returned by GET /health.
type Health struct {
	Status   string    `json:"status"`
	Version  string    `json:"version"`
	Sessions int       `json:"sessions"`
	Time     time.Time `json:"time"`
}

const (
	statusAwaitingScan = "awaiting-scan"
	statusConnected    = "connected"
)
