package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/wamesh-go/internal/infra/buildinfo"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Message: "wamesh is running",
		Data: HealthResponse{
			Status:   "ok",
			Version:  buildinfo.Get().Version,
			Sessions: h.sessions.Count(),
			Time:     time.Now().UTC(),
		},
	})
}
