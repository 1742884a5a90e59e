// Package http contains the HTTP handlers and router for the license
// server.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "tskeyd/internal/errors"
	"tskeyd/internal/license"
	"tskeyd/internal/middleware"
	"tskeyd/internal/services"
)

// LicenseHandler serves the client-facing license endpoints.
type LicenseHandler struct {
	service *services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *services.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the router for the /license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check", h.Check)
	r.Post("/activate", h.Activate)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/heartbeat", h.Heartbeat)
	return r
}

// clientRequest is the decoded form of every client endpoint body. The raw
// payload map retains the exact decoded values for signature verification.
type clientRequest struct {
	Key        string
	DeviceID   string
	DeviceInfo json.RawMessage
	payload    map[string]any
}

// decodeClientRequest reads the signed request body. Numbers are decoded
// with UseNumber so the canonical signing form sees the original literals.
func decodeClientRequest(r *http.Request) (*clientRequest, *apierrors.APIError) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, apierrors.InvalidRequestWithError(err)
	}

	req := &clientRequest{payload: payload}
	var ok bool
	if req.Key, ok = payload["key"].(string); !ok || req.Key == "" {
		return nil, apierrors.MissingParameter("key")
	}
	if req.DeviceID, ok = payload["device_id"].(string); !ok || req.DeviceID == "" {
		return nil, apierrors.MissingParameter("device_id")
	}
	if info, present := payload["device_info"]; present {
		raw, err := json.Marshal(info)
		if err != nil {
			return nil, apierrors.InvalidRequestWithError(err)
		}
		req.DeviceInfo = raw
	}
	return req, nil
}

func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// checkResponse is the /license/check reply.
type checkResponse struct {
	Valid   bool       `json:"valid"`
	Message string     `json:"message"`
	Expires *time.Time `json:"expires,omitempty"`
}

// actionResponse is the reply for activate and deactivate.
type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// heartbeatResponse is the /license/heartbeat reply.
type heartbeatResponse struct {
	Success bool `json:"success"`
}

// rejectionMessage maps business rejections to the human-readable reason
// carried in the response body.
func rejectionMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, license.ErrNotFound):
		return "license not found", true
	case errors.Is(err, license.ErrBlocked):
		return "license is blocked", true
	case errors.Is(err, license.ErrExpired):
		return "license has expired", true
	case errors.Is(err, license.ErrDeviceMismatch):
		return "license is bound to another device", true
	default:
		return "", false
	}
}

// authorize runs signature and freshness validation and writes the generic
// unauthorized response on failure.
func (h *LicenseHandler) authorize(w http.ResponseWriter, r *http.Request, req *clientRequest) bool {
	if err := h.service.Authorize(r.Context(), req.payload); err != nil {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return false
	}
	return true
}

// Check handles POST /license/check.
func (h *LicenseHandler) Check(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeClientRequest(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	if !h.authorize(w, r, req) {
		return
	}

	result, err := h.service.Check(r.Context(), req.Key, req.DeviceID, requestMeta(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "check failed", "key", req.Key, "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}

	resp := checkResponse{Valid: result.Valid}
	if result.Valid {
		resp.Message = "license valid"
		resp.Expires = result.ExpiresAt
	} else {
		resp.Message, _ = rejectionMessage(result.Denial)
	}
	render.JSON(w, r, resp)
}

// Activate handles POST /license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeClientRequest(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	if !h.authorize(w, r, req) {
		return
	}

	_, err := h.service.Activate(r.Context(), req.Key, req.DeviceID, req.DeviceInfo, requestMeta(r))
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			render.JSON(w, r, actionResponse{Success: false, Message: msg})
			return
		}
		h.logger.ErrorContext(r.Context(), "activate failed", "key", req.Key, "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, actionResponse{Success: true, Message: "license activated"})
}

// Deactivate handles POST /license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeClientRequest(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	if !h.authorize(w, r, req) {
		return
	}

	err := h.service.Deactivate(r.Context(), req.Key, req.DeviceID, requestMeta(r))
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			render.JSON(w, r, actionResponse{Success: false, Message: msg})
			return
		}
		h.logger.ErrorContext(r.Context(), "deactivate failed", "key", req.Key, "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, actionResponse{Success: true, Message: "license deactivated"})
}

// Heartbeat handles POST /license/heartbeat. The reply is success-shaped
// even when no row matched.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	req, apiErr := decodeClientRequest(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}
	if !h.authorize(w, r, req) {
		return
	}

	if err := h.service.Heartbeat(r.Context(), req.Key, req.DeviceID, requestMeta(r)); err != nil {
		h.logger.ErrorContext(r.Context(), "heartbeat failed", "key", req.Key, "error", err)
		render.Render(w, r, apierrors.ErrInternalServer)
		return
	}
	render.JSON(w, r, heartbeatResponse{Success: true})
}
