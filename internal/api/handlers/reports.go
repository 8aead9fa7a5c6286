package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/report"
)

// ReportHandler handles report finalization and stamp verification
type ReportHandler struct {
	finalizer *report.Finalizer
	logger    *slog.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(finalizer *report.Finalizer, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		finalizer: finalizer,
		logger:    loggerOrDefault(logger),
	}
}

// FinalizeReportRequest represents a report finalization
type FinalizeReportRequest struct {
	Content        map[string]any `json:"content" binding:"required"`
	PractitionerID string         `json:"practitioner_id" binding:"required"`
	Signature      string         `json:"signature"`
}

// VerifyReportRequest carries content and the stamp to check it against
type VerifyReportRequest struct {
	Content map[string]any           `json:"content" binding:"required"`
	Stamp   *models.ReportAuditStamp `json:"stamp" binding:"required"`
}

// VerifyReportResponse represents a stamp verification result
type VerifyReportResponse struct {
	Valid bool `json:"valid"`
}

// Finalize records a report's content hash in the ledger
// POST /api/v1/admin/reports/:id/finalize
func (h *ReportHandler) Finalize(c *gin.Context) {
	var req FinalizeReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	stamp, err := h.finalizer.FinalizeReport(c.Request.Context(), c.Param("id"), req.Content, req.PractitionerID, req.Signature)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, stamp)
}

// Verify checks content against a stamp and the ledger
// POST /api/v1/admin/reports/:id/verify
func (h *ReportHandler) Verify(c *gin.Context) {
	var req VerifyReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	ok, err := h.finalizer.VerifyReportStamp(c.Request.Context(), c.Param("id"), req.Content, req.Stamp)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, VerifyReportResponse{Valid: ok})
}

// Trail returns every ledger entry about a report
// GET /api/v1/admin/reports/:id/trail
func (h *ReportHandler) Trail(c *gin.Context) {
	entries, err := h.finalizer.GetAuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, newAuditLogResponse(entries))
}
