package core

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondServiceError maps the error taxonomy to a status and a generic message.
// Anything outside the taxonomy is logged and reported as an internal error.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidHashFormat),
		errors.Is(err, ErrTokenExpired), errors.Is(err, ErrInvalidToken):
		c.Header("WWW-Authenticate", "Bearer")
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not validate credentials")
	case errors.Is(err, ErrInactive):
		respondError(c, http.StatusBadRequest, "INACTIVE_USER", "Inactive user")
	case errors.Is(err, ErrPermissionDenied):
		respondError(c, http.StatusUnauthorized, "PERMISSION_DENIED", "Permission denied")
	case errors.Is(err, ErrDuplicateTask):
		respondError(c, http.StatusBadRequest, "DUPLICATE", "Task ID already exists")
	case errors.Is(err, ErrDuplicate):
		respondError(c, http.StatusBadRequest, "DUPLICATE", "Username already exists")
	case errors.Is(err, ErrTaskNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Task ID not found")
	case errors.Is(err, ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, ErrUnsupportedImage):
		respondError(c, http.StatusMethodNotAllowed, "UNSUPPORTED_MEDIA", "Unsupported file type, only support jpeg or png")
	case errors.Is(err, ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal server error")
	}
}
