package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tfiber/tera-assist/internal/store"
)

// OracleHealth reports whether a remote answer backend is reachable.
type OracleHealth interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo    store.Repository
	oracle  OracleHealth
	timeout time.Duration
}

// NewHealthHandler creates a new health handler. oracle may be nil when the
// backend runs in-process.
func NewHealthHandler(repo store.Repository, oracle OracleHealth, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{repo: repo, oracle: oracle, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.oracle != nil {
		if err := h.oracle.Health(ctx); err != nil {
			slog.Error("Oracle health check failed", "error", err)
			status["status"] = "degraded"
			checks["oracle"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["oracle"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
