package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seatengine/pkg/api/middleware"
	"seatengine/pkg/apportionment"
	"seatengine/pkg/models"
	"seatengine/pkg/storage"
)

// statusFor maps a domain error to an HTTP status and a metric label.
func statusFor(err error) (int, string) {
	var verr *middleware.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, apportionment.ErrInconsistentTally):
		return http.StatusUnprocessableEntity, "inconsistent_tally"
	case errors.Is(err, apportionment.ErrInvalidConfiguration):
		return http.StatusBadRequest, "invalid_configuration"
	case errors.Is(err, models.ErrInvalidElection):
		return http.StatusBadRequest, "invalid_election"
	case errors.Is(err, apportionment.ErrMethodNotApplicable):
		return http.StatusConflict, "method_not_applicable"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// abortWithError writes the JSON error body for err and records it on the context.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status, kind := statusFor(err)
	middleware.HTTPDomainErrors.WithLabelValues(kind).Inc()
	_ = c.Error(err)

	if status == http.StatusInternalServerError {
		s.log.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "kind": kind})
}
