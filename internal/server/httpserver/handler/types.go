package handler

import (
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Count     *int   `json:"count,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// CreateSessionRequest is the request body for POST /api/sessions.
// Field names follow the public API, which predates this server.
type CreateSessionRequest struct {
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId,omitempty"`
}

// PairingChallengeResponse is the response body for GET /api/sessions/{id}/qr.
type PairingChallengeResponse struct {
	SessionID string        `json:"session_id"`
	Challenge string        `json:"qr_code"`
	Status    domain.Status `json:"status"`
}

// SendMessageRequest is the request body for POST /api/messages/send.
type SendMessageRequest struct {
	SessionID string `json:"sessionId"`
	To        string `json:"to"`
	Message   string `json:"message"`
}

// SendMessageResponse is the response body for POST /api/messages/send.
type SendMessageResponse struct {
	SessionID string    `json:"session_id"`
	To        string    `json:"to"`
	SentAt    time.Time `json:"sent_at"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string    `json:"status"`
	Version  string    `json:"version"`
	Sessions int       `json:"sessions"`
	Time     time.Time `json:"time"`
}
