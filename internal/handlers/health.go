package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and database reachability
type HealthHandler struct {
	db      Pinger
	version string
}

func NewHealthHandler(db Pinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Version  string `json:"version,omitempty"`
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "memory", Version: h.version}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}
