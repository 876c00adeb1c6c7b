package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attend/internal/models"
	"github.com/your-org/attend/internal/session"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrResolutionNotFound), errors.Is(err, session.ErrNoPreview):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotACandidate), errors.Is(err, session.ErrInvalidOptions):
		return http.StatusBadRequest
	}

	switch models.KindOf(err) {
	case models.ErrorKindUnknownIdentity:
		return http.StatusNotFound
	case models.ErrorKindNoFaceDetected, models.ErrorKindEncodingFailed, models.ErrorKindDimensionMismatch:
		return http.StatusUnprocessableEntity
	case models.ErrorKindEmptyEnrollmentSet:
		return http.StatusConflict
	case models.ErrorKindDeviceUnavailable:
		return http.StatusServiceUnavailable
	case models.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	body := gin.H{"error": err.Error()}
	if kind := models.KindOf(err); kind != models.ErrorKindInternal {
		body["kind"] = kind
	}
	c.JSON(status, body)
}
