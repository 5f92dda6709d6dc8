package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/scan"
)

// statusFor maps the attendance error taxonomy onto HTTP statuses. Clients
// branch on these: 410 means re-scan a fresh code, 422 means try the capture
// again, 409 means the requested transition is not available.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrExpired), errors.Is(err, models.ErrSessionNotActive):
		return http.StatusGone
	case errors.Is(err, models.ErrNotEnrolled):
		return http.StatusForbidden
	case errors.Is(err, models.ErrFaceMismatch), errors.Is(err, models.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidState), errors.Is(err, scan.ErrNoCaptureWindow):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
