package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/middleware"
)

var statusByCode = map[string]int{
	domain.ErrCodeInvalidState: http.StatusConflict,
	domain.ErrCodeValidation:   http.StatusBadRequest,
	domain.ErrCodeNotFound:     http.StatusNotFound,
	domain.ErrCodeConflict:     http.StatusConflict,
	domain.ErrCodeTimeout:      http.StatusGatewayTimeout,
}

// classify maps an orchestrator error to a status code and API error code.
func classify(err error) (int, string) {
	code := domain.ErrorCode(err)
	if status, ok := statusByCode[code]; ok {
		return status, code
	}
	return http.StatusInternalServerError, code
}

// respondError writes err as an APIError. Internal errors are logged and their text withheld.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	requestID := c.GetString(middleware.CorrelationIDKey)

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"route":          c.FullPath(),
		}).WithError(err).Error("Request failed")
		message = "internal server error"
	}

	apiErr := domain.NewAPIError(code, message, "", requestID)
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		apiErr.Details = ve.Field
	}
	c.AbortWithStatusJSON(status, apiErr)
}

// badRequest reports a malformed request body or parameter.
func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewAPIError(
		domain.ErrCodeInvalidInput, "malformed request", err.Error(), c.GetString(middleware.CorrelationIDKey)))
}
