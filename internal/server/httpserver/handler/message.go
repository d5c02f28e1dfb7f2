package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yndnr/wamesh-go/internal/core/domain"
	"github.com/yndnr/wamesh-go/internal/core/service"
	"github.com/yndnr/wamesh-go/internal/telemetry/logger"
)

// handleSendMessage handles POST /api/messages/send.
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.To == "" || req.Message == "" {
		WriteError(w, r, http.StatusBadRequest, domain.ErrMissingArgument.Code, "sessionId, to and message are required")
		return
	}

	ctx := logger.WithSessionID(r.Context(), req.SessionID)
	resp, err := h.messages.Send(ctx, &service.SendMessageRequest{
		SessionID: req.SessionID,
		To:        req.To,
		Message:   req.Message,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, Response{
		Message: "message sent",
		Data: SendMessageResponse{
			SessionID: resp.SessionID,
			To:        resp.To,
			SentAt:    resp.SentAt,
		},
	})
}

// handleMessageLogs handles GET /api/messages/logs.
func (h *Handler) handleMessageLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r.URL.Query())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	logs, err := h.messages.Logs(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*domain.MessageLog{}
	}
	h.writeJSON(w, r, http.StatusOK, Response{Data: logs, Count: intPtr(len(logs))})
}

// handleMessageStats handles GET /api/messages/stats.
func (h *Handler) handleMessageStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r.URL.Query())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	stats, err := h.messages.Stats(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, Response{Data: stats})
}

// parseLogFilter reads sessionId, clientId, to, status, startDate,
// endDate, limit and offset. Dates are RFC 3339 or YYYY-MM-DD; a bare
// endDate covers the whole day.
func parseLogFilter(q url.Values) (domain.LogFilter, error) {
	f := domain.LogFilter{
		SessionID: q.Get("sessionId"),
		ClientID:  q.Get("clientId"),
		To:        q.Get("to"),
		Status:    domain.MessageStatus(q.Get("status")),
	}

	switch f.Status {
	case "", domain.MessageSent, domain.MessageFailed:
	default:
		return f, domain.ErrInvalidArgument.WithDetails("status must be sent or failed")
	}

	var err error
	if f.Start, err = parseDate(q.Get("startDate"), false); err != nil {
		return f, domain.ErrInvalidArgument.WithDetails("startDate: " + err.Error())
	}
	if f.End, err = parseDate(q.Get("endDate"), true); err != nil {
		return f, domain.ErrInvalidArgument.WithDetails("endDate: " + err.Error())
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, domain.ErrInvalidArgument.WithDetails("limit: " + err.Error())
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, domain.ErrInvalidArgument.WithDetails("offset: " + err.Error())
	}
	return f.Normalize(), nil
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
