package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/breakglass/internal/errs"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// RespondErrorWithDetails sends an error response with details
func RespondErrorWithDetails(c *gin.Context, statusCode int, errorCode string, message string, details any) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// RespondBindError reports a request body that could not be decoded or
// failed its binding rules
func RespondBindError(c *gin.Context, err error) {
	RespondErrorWithDetails(c, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
}

// RespondServiceError maps err to a status and an error code from
// errs.Kind. Errors outside the taxonomy are logged and reported without
// detail.
func RespondServiceError(c *gin.Context, logger *slog.Logger, err error) {
	status := StatusForError(err)
	kind := errs.Kind(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		RespondError(c, status, kind, "Internal server error")
		return
	}
	RespondError(c, status, kind, err.Error())
}

// StatusForError returns the HTTP status for an error kind
func StatusForError(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrFormat):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrAuthentication),
		errors.Is(err, errs.ErrExpired),
		errors.Is(err, errs.ErrReplay):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrState):
		return http.StatusConflict
	case errors.Is(err, errs.ErrIntegrity):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondSuccess sends a success response
func RespondSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// GetClientIP returns the originating client address: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection peer.
func GetClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); ip != "" {
		return ip
	}
	return c.ClientIP()
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
