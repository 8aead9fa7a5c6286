package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/ledger"
)

// Pinger checks a backing store is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	db      Pinger
	ledger  *ledger.Ledger
	version string
}

// NewHealthHandler creates a new health handler. db may be nil.
func NewHealthHandler(db Pinger, l *ledger.Ledger, version string) *HealthHandler {
	return &HealthHandler{db: db, ledger: l, version: version}
}

// HealthResponse represents a probe result
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database,omitempty"`
	Ledger   string `json:"ledger,omitempty"`
}

// Live reports the process is serving
// GET /api/v1/health/live
func (h *HealthHandler) Live(c *gin.Context) {
	RespondSuccess(c, HealthResponse{Status: "ok", Version: h.version})
}

// Ready reports whether the database answers and the ledger accepts appends
// GET /api/v1/health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	resp := HealthResponse{Status: "ready", Version: h.version, Database: "healthy", Ledger: "healthy"}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			resp.Database = "unhealthy"
			resp.Status = "not_ready"
		}
	}
	if h.ledger != nil {
		if _, broken := h.ledger.Broken(); broken {
			resp.Ledger = "broken"
			resp.Status = "not_ready"
		}
	}

	if resp.Status != "ready" {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	RespondSuccess(c, resp)
}
