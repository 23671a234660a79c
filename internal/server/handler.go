// Package server exposes the latest health snapshots over a read-only HTTP API.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

// StatusProvider gives access to the latest snapshots
type StatusProvider interface {
	Snapshots() models.Snapshots
	Snapshot(name string) (models.HealthSnapshot, bool)
}

// apiError is the body of every non-2xx response
type apiError struct {
	Error   string `json:"error"`
	Service string `json:"service,omitempty"`
}

// Handler handles HTTP requests
type Handler struct {
	status StatusProvider
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(status StatusProvider, logger *zap.Logger) *Handler {
	return &Handler{
		status: status,
		logger: logger,
	}
}

// Status returns the snapshots of every service
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status.Snapshots())
}

// ServiceStatus returns the snapshot of the service named in the path
func (h *Handler) ServiceStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, ok := h.status.Snapshot(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, apiError{
			Error:   "unknown service: " + name,
			Service: name,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, body any) {
	writeJSON(w, code, body, h.logger)
}

func writeJSON(w http.ResponseWriter, code int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}
