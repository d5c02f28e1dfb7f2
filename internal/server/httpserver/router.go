package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/wamesh-go/internal/core/service"
	"github.com/yndnr/wamesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/wamesh-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Sessions *service.SessionManager
	Messages *service.MessageService

	// Metrics receives request observations and serves MetricsPath.
	// Nil disables both.
	Metrics *metric.Registry

	Logger *slog.Logger

	// APIKeys accepted in X-API-Key. Empty disables authentication.
	APIKeys []string

	// RateLimit is requests per second per caller, with RateBurst headroom.
	RateLimit float64
	RateBurst int

	CORSOrigins []string
	MetricsPath string
}

// unauthenticated lists patterns served without an API key.
var unauthenticated = map[string]bool{
	"GET /health": true,
}

// NewRouter creates and configures the HTTP router with all routes and middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	h := handler.New(cfg.Sessions, cfg.Messages, log)

	var observer RequestObserver
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}

	auth := APIKey(cfg.APIKeys)
	limit := RateLimit(cfg.RateLimit, cfg.RateBurst)
	cors := CORS(cfg.CORSOrigins)

	mux := http.NewServeMux()
	for _, pattern := range handler.Routes() {
		chain := []Middleware{Recover(log), RequestID(), AccessLog(log, observer, pattern), cors}
		if !unauthenticated[pattern] {
			chain = append(chain, auth, limit)
		}
		mux.Handle(pattern, Chain(h, chain...))
	}

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, cfg.Metrics.Handler())
	}

	return mux
}
