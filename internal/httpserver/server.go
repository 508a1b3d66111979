// Package httpserver exposes the webhook, health and metrics endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const maxUpdateBytes = 1 << 20

// UpdateHandler processes one raw webhook update body.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, body []byte) error
}

type Config struct {
	Mode           string
	WebhookEnabled bool
	WebhookPath    string
	HealthPath     string
	MetricsPath    string
	Updates        UpdateHandler
	Logger         zerolog.Logger
}

// NewRouter builds the chi router serving every HTTP endpoint.
func NewRouter(cfg Config) http.Handler {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post(cfg.WebhookPath, webhookHandler(cfg))
	r.Get(cfg.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "mode": cfg.Mode})
	})
	r.Handle(cfg.MetricsPath, promhttp.Handler())
	return r
}

func webhookHandler(cfg Config) http.HandlerFunc {
	log := cfg.Logger.With().Str("component", "webhook").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.WebhookEnabled || cfg.Updates == nil {
			writeText(w, http.StatusForbidden, "Webhook mode is disabled")
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
		if err != nil {
			log.Error().Err(err).Msg("read webhook body failed")
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if err := cfg.Updates.HandleUpdate(r.Context(), body); err != nil {
			log.Error().Err(err).Msg("process webhook update failed")
			writeText(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		writeText(w, http.StatusOK, "OK")
	}
}

// writeText answers with body verbatim, without the trailing newline http.Error adds.
func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// New wraps the router in an http.Server with the listener timeouts used in production.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}
