package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "tskeyd/internal/errors"
	"tskeyd/internal/license"
	"tskeyd/internal/services"
)

// AdminHandler serves the admin API. Authentication is applied by the
// router; every operation here is an unconditional administrative override
// that bypasses the client-facing state guards.
type AdminHandler struct {
	service  *services.LicenseService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service *services.LicenseService, logger *slog.Logger) *AdminHandler {
	v := validator.New()
	v.RegisterValidation("licensekey", func(fl validator.FieldLevel) bool {
		return license.ValidKeyFormat(fl.Field().String())
	})
	return &AdminHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "admin")),
		validate: v,
	}
}

// Routes returns the router for the /api/admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/generate", h.Generate)
	r.Get("/licenses", h.List)
	r.Get("/stats", h.Stats)
	r.Post("/block", h.Block)
	r.Post("/unblock", h.Unblock)
	r.Post("/unbind", h.Unbind)
	r.Post("/delete", h.Delete)
	r.Get("/logs/{key}", h.Logs)
	return r
}

type generateRequest struct {
	// Days until expiry. Zero or omitted creates a perpetual license.
	Days int `json:"days" validate:"gte=0,lte=36500"`
}

type keyRequest struct {
	Key string `json:"key" validate:"required,licensekey"`
}

func (h *AdminHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			render.Render(w, r, apierrors.ErrValidation(fe.Field(), fe.Tag()))
			return false
		}
		render.Render(w, r, apierrors.ErrValidationFailed)
		return false
	}
	return true
}

// Generate handles POST /api/admin/generate.
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	lic, err := h.service.Generate(r.Context(), req.Days)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "generate failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, lic)
}

// List handles GET /api/admin/licenses with an optional search filter.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.service.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, map[string]any{"licenses": licenses, "count": len(licenses)})
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "stats failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, stats)
}

func (h *AdminHandler) keyAction(w http.ResponseWriter, r *http.Request, action string, fn func() error) {
	if err := fn(); err != nil {
		if errors.Is(err, license.ErrNotFound) {
			render.Render(w, r, apierrors.ErrNotFound)
			return
		}
		h.logger.ErrorContext(r.Context(), action+" failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, map[string]any{"success": true})
}

// Block handles POST /api/admin/block.
func (h *AdminHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.keyAction(w, r, "block", func() error { return h.service.Block(r.Context(), req.Key) })
}

// Unblock handles POST /api/admin/unblock.
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.keyAction(w, r, "unblock", func() error { return h.service.Unblock(r.Context(), req.Key) })
}

// Unbind handles POST /api/admin/unbind.
func (h *AdminHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.keyAction(w, r, "unbind", func() error { return h.service.Unbind(r.Context(), req.Key) })
}

// Delete handles POST /api/admin/delete.
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	h.keyAction(w, r, "delete", func() error { return h.service.Delete(r.Context(), req.Key) })
}

// Logs handles GET /api/admin/logs/{key}.
func (h *AdminHandler) Logs(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !license.ValidKeyFormat(key) {
		render.Render(w, r, apierrors.ErrValidation("key", "licensekey"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			render.Render(w, r, apierrors.ErrValidation("limit", "positive integer"))
			return
		}
		limit = n
	}

	logs, err := h.service.Logs(r.Context(), key, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "logs failed", "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, map[string]any{"logs": logs, "count": len(logs)})
}
