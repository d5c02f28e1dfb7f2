package handler

import (
	"net/http"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/core/service"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
)

// handleCreateSession handles POST /api/sessions.
//
// The session is registered first and its metadata persisted second, so a
// crash between the two leaves a live session without a directory rather
// than a directory without a session.
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClientID == "" {
		WriteError(w, r, http.StatusBadRequest, domain.ErrMissingArgument.Code, "clientId is required")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), &service.CreateSessionRequest{
		ClientID:  req.ClientID,
		SessionID: req.SessionID,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	ctx := logger.WithSessionID(r.Context(), session.ID)
	if err := h.sessions.SaveSessionMetadata(ctx, session.ID); err != nil {
		h.handleServiceError(w, r.WithContext(ctx), err)
		return
	}

	h.writeJSON(w, r, http.StatusCreated, Response{Data: session})
}

// handleListSessions handles GET /api/sessions[?clientId=].
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.ListSessions(r.Context(), r.URL.Query().Get("clientId"))
	h.writeJSON(w, r, http.StatusOK, Response{Data: sessions, Count: intPtr(len(sessions))})
}

// handleGetSession handles GET /api/sessions/{id}.
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, Response{Data: session})
}

// handlePairingChallenge handles GET /api/sessions/{id}/qr.
func (h *Handler) handlePairingChallenge(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if session.PairingChallenge == "" {
		h.handleServiceError(w, r, domain.ErrPairingChallengeUnavailable.WithDetails("status: "+session.Status.String()))
		return
	}

	h.writeJSON(w, r, http.StatusOK, Response{Data: PairingChallengeResponse{
		SessionID: session.ID,
		Challenge: session.PairingChallenge,
		Status:    session.Status,
	}})
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logger.WithSessionID(r.Context(), id)
	if err := h.sessions.DeleteSession(ctx, id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, Response{Message: "session deleted"})
}
