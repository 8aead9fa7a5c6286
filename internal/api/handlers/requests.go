package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/models"
	"github.com/adamscao/breakglass/internal/signature"
)

// RequestHandler handles the credential request lifecycle
type RequestHandler struct {
	manager *credential.Manager
	logger  *slog.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(manager *credential.Manager, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{
		manager: manager,
		logger:  loggerOrDefault(logger),
	}
}

// CreateRequestBody represents a credential request creation
type CreateRequestBody struct {
	RequesterID string            `json:"requester_id" binding:"required"`
	Reason      string            `json:"reason" binding:"required"`
	VaultID     string            `json:"vault_id" binding:"required"`
	Path        string            `json:"path" binding:"required"`
	Context     map[string]string `json:"context"`
	Emergency   bool              `json:"emergency"`
}

// ApproveRequestBody carries an owner's offline signed approval
type ApproveRequestBody struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Signature  string `json:"signature" binding:"required"`
	ApprovedAt string `json:"approved_at" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// DenyRequestBody represents a denial
type DenyRequestBody struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Reason     string `json:"reason"`
}

// RevokeRequestBody names who revokes an issued token
type RevokeRequestBody struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// ListRequestsResponse represents a request listing
type ListRequestsResponse struct {
	Requests []*models.CredentialRequest `json:"requests"`
	Count    int                         `json:"count"`
}

// Create creates a new credential request
// POST /api/v1/requests
func (h *RequestHandler) Create(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondBindError(c, err)
		return
	}

	req, err := h.manager.CreateRequest(c.Request.Context(), credential.CreateRequestInput{
		RequesterID: body.RequesterID,
		Reason:      body.Reason,
		VaultID:     body.VaultID,
		Path:        body.Path,
		Context:     body.Context,
		Emergency:   body.Emergency,
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

// Get returns a request with its effective status
// GET /api/v1/requests/:id
func (h *RequestHandler) Get(c *gin.Context) {
	req, err := h.manager.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, req)
}

// List returns requests newest first
// GET /api/v1/admin/requests?status=pending&emergency=true
func (h *RequestHandler) List(c *gin.Context) {
	filter := credential.ListFilter{}
	if s := c.Query("status"); s != "" {
		status := models.RequestStatus(s)
		if !status.Valid() {
			RespondError(c, http.StatusBadRequest, "invalid_request", "Unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = status
	}
	if e := c.Query("emergency"); e != "" {
		emergency, err := strconv.ParseBool(e)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_request", "emergency must be a boolean")
			return
		}
		filter.EmergencyOnly = emergency
	}

	reqs, err := h.manager.List(c.Request.Context(), filter)
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	if reqs == nil {
		reqs = []*models.CredentialRequest{}
	}
	RespondSuccess(c, ListRequestsResponse{Requests: reqs, Count: len(reqs)})
}

// Approve verifies a signed approval and returns the access token
// POST /api/v1/requests/:id/approve
func (h *RequestHandler) Approve(c *gin.Context) {
	var body ApproveRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondBindError(c, err)
		return
	}
	approvedAt, err := signature.ParseApprovalTime(body.ApprovedAt)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "approved_at must be an RFC 3339 timestamp")
		return
	}
	if body.TTLSeconds < 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", "ttl_seconds must not be negative")
		return
	}

	bundle, err := h.manager.Approve(c.Request.Context(), credential.ApproveInput{
		RequestID:  c.Param("id"),
		ApproverID: body.ApproverID,
		Signature:  body.Signature,
		ApprovedAt: approvedAt,
		TTL:        time.Duration(body.TTLSeconds) * time.Second,
	})
	if err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	RespondSuccess(c, bundle)
}

// Deny refuses a pending request
// POST /api/v1/admin/requests/:id/deny
func (h *RequestHandler) Deny(c *gin.Context) {
	var body DenyRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondBindError(c, err)
		return
	}

	if err := h.manager.Deny(c.Request.Context(), c.Param("id"), body.ApproverID, body.Reason); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"status": string(models.StatusDenied)})
}

// Revoke invalidates the token issued for an approved request
// POST /api/v1/admin/requests/:id/revoke
func (h *RequestHandler) Revoke(c *gin.Context) {
	var body RevokeRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondBindError(c, err)
		return
	}

	if err := h.manager.RevokeToken(c.Request.Context(), c.Param("id"), body.ActorID); err != nil {
		RespondServiceError(c, h.logger, err)
		return
	}
	RespondSuccess(c, gin.H{"status": "revoked"})
}
