package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// HealthHandler handles health check requests.
type HealthHandler struct {
	version string
	alive   func() bool
	ready   Check
}

// NewHealthHandler creates a new HealthHandler. alive and ready may be nil.
func NewHealthHandler(version string, alive func() bool, ready Check) *HealthHandler {
	return &HealthHandler{
		version: version,
		alive:   alive,
		ready:   ready,
	}
}

// Liveness returns 200 "ok" while the process can make progress.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.alive != nil && !h.alive() {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("replay loop stopped"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readiness returns 200 once the service can accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready", err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Version returns the build version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.VersionResponse{Version: h.version})
}
