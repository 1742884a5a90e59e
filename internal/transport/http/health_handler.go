package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "tskeyd/internal/errors"
	"tskeyd/internal/store"
)

// HealthHandler reports process and store health.
type HealthHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st store.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: st, logger: logger.With(slog.String("handler", "health"))}
}

// Healthz handles GET /healthz. It pings the store so load balancers stop
// routing to an instance that lost its database.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "store ping failed", "error", err)
		render.Render(w, r, apierrors.ErrServiceUnavailable)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}
