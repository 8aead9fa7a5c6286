package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditHandler exposes the audit ledger
type AuditHandler struct {
	ledger *ledger.Ledger
	logger *slog.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(l *ledger.Ledger, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		ledger: l,
		logger: loggerOrDefault(logger),
	}
}

// AuditEntry is a ledger entry with its decoded event
type AuditEntry struct {
	models.LedgerEntry
	Event any `json:"event,omitempty"`
}

// AuditLogResponse represents a ledger listing
type AuditLogResponse struct {
	Entries []AuditEntry `json:"entries"`
	Count   int          `json:"count"`
}

// Log lists ledger entries, most recent last
// GET /api/v1/admin/audit/log?type=CREDENTIAL_REQUEST&subject=REQ-...&limit=100
func (h *AuditHandler) Log(c *gin.Context) {
	limit := defaultAuditLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxAuditLimit {
			RespondError(c, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	entries, err := h.ledger.Entries(c.Request.Context(), ledger.Query{
		Type:    ledger.EventType(c.Query("type")),
		Subject: c.Query("subject"),
		Limit:   limit,
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, newAuditLogResponse(entries))
}

// Entry returns one ledger entry by transaction id
// GET /api/v1/admin/audit/entries/:tx
func (h *AuditHandler) Entry(c *gin.Context) {
	entry, err := h.ledger.Entry(c.Request.Context(), c.Param("tx"))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, newAuditEntry(entry))
}

// Verify recomputes the hash chain
// GET /api/v1/admin/audit/verify
func (h *AuditHandler) Verify(c *gin.Context) {
	res, err := h.ledger.VerifyChain(c.Request.Context())
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	if !res.Valid {
		c.JSON(http.StatusConflict, res)
		return
	}
	RespondSuccess(c, res)
}

func newAuditLogResponse(entries []models.LedgerEntry) AuditLogResponse {
	out := make([]AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, newAuditEntry(e))
	}
	return AuditLogResponse{Entries: out, Count: len(out)}
}

func newAuditEntry(e models.LedgerEntry) AuditEntry {
	ae := AuditEntry{LedgerEntry: e}
	// An undecodable payload still lists; VerifyChain reports it.
	if ev, err := ledger.Decode(e); err == nil {
		ae.Event = ev
	}
	return ae
}
