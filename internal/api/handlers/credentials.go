package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/errs"
)

// AgentIDHeader identifies the agent redeeming a token
const AgentIDHeader = "X-Agent-ID"

// CredentialHandler redeems access tokens
type CredentialHandler struct {
	manager *credential.Manager
	logger  *slog.Logger
}

// NewCredentialHandler creates a new credential handler
func NewCredentialHandler(manager *credential.Manager, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		manager: manager,
		logger:  loggerOrDefault(logger),
	}
}

// RetrieveRequest represents a token redemption
type RetrieveRequest struct {
	Token string `json:"token" binding:"required"`
}

// RetrieveResponse carries the still-encrypted secret
type RetrieveResponse struct {
	RequestID   string    `json:"request_id"`
	VaultID     string    `json:"vault_id"`
	Path        string    `json:"path"`
	Secret      []byte    `json:"secret"`
	RetrievedAt time.Time `json:"retrieved_at"`
	LedgerTxID  string    `json:"ledger_tx_id"`
}

// Retrieve redeems a single-use token
// POST /api/v1/credentials/retrieve
func (h *CredentialHandler) Retrieve(c *gin.Context) {
	agentID := c.GetHeader(AgentIDHeader)
	if agentID == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", AgentIDHeader+" header required")
		return
	}

	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBindError(c, err)
		return
	}

	ret, err := h.manager.Retrieve(c.Request.Context(), agentID, req.Token)
	if err != nil {
		if status := StatusForError(err); status == http.StatusUnauthorized || status == http.StatusConflict {
			h.logger.WarnContext(c.Request.Context(), "credential retrieval rejected",
				"agent_id", agentID,
				"client_ip", GetClientIP(c),
				"kind", errs.Kind(err),
			)
		}
		RespondServiceError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	RespondSuccess(c, RetrieveResponse{
		RequestID:   ret.RequestID,
		VaultID:     ret.VaultID,
		Path:        ret.Path,
		Secret:      ret.Secret,
		RetrievedAt: ret.RetrievedAt,
		LedgerTxID:  ret.LedgerTxID,
	})
}
