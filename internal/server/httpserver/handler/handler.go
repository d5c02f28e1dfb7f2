package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/core/service"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	sessions *service.SessionManager
	messages *service.MessageService
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a new Handler with the given services.
func New(sessions *service.SessionManager, messages *service.MessageService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		sessions: sessions,
		messages: messages,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Routes lists the patterns served by the handler.
func Routes() []string {
	return []string{
		"GET /health",
		"POST /api/sessions",
		"GET /api/sessions",
		"GET /api/sessions/{id}",
		"GET /api/sessions/{id}/qr",
		"DELETE /api/sessions/{id}",
		"POST /api/messages/send",
		"GET /api/messages/logs",
		"GET /api/messages/stats",
	}
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)

	h.mux.HandleFunc("POST /api/sessions", h.handleCreateSession)
	h.mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	h.mux.HandleFunc("GET /api/sessions/{id}", h.handleGetSession)
	h.mux.HandleFunc("GET /api/sessions/{id}/qr", h.handlePairingChallenge)
	h.mux.HandleFunc("DELETE /api/sessions/{id}", h.handleDeleteSession)

	h.mux.HandleFunc("POST /api/messages/send", h.handleSendMessage)
	h.mux.HandleFunc("GET /api/messages/logs", h.handleMessageLogs)
	h.mux.HandleFunc("GET /api/messages/stats", h.handleMessageStats)
}

// writeJSON writes a success response with the standard envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	resp.Success = true
	resp.RequestID = logger.RequestIDFromContext(r.Context())
	writeEnvelope(w, status, resp)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body")
		return false
	}
	return true
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		status := StatusForCode(de.Code)
		if status >= http.StatusInternalServerError {
			logger.L(r.Context()).Error("request failed", "code", de.Code, "error", err)
		}
		WriteError(w, r, status, de.Code, de.Error())
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	WriteError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message)
}

// WriteError writes an error response with the standard envelope.
// It is shared with the middleware chain.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("X-Error-Code", code)
	writeEnvelope(w, status, Response{
		Success:   false,
		Error:     message,
		Code:      code,
		RequestID: logger.RequestIDFromContext(r.Context()),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.RequestID != "" {
		w.Header().Set("X-Request-ID", resp.RequestID)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// StatusForCode maps an error code to its HTTP status. The first three
// digits of the last code segment are the status ("WA-SESS-4091" is 409).
func StatusForCode(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 < 3 {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(code[i+1 : i+4])
	if err != nil || status < 400 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}

func intPtr(n int) *int { return &n }
