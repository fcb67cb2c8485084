package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/hourglass/internal/response"
	"github.com/stemsi/hourglass/internal/service"
)

// failFromError maps service errors onto the response envelope. Anything
// unrecognized is logged and reported as an internal error.
func failFromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, service.ErrRegistrationNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrAnomalyNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAnomalyNotFound)
	case errors.Is(err, service.ErrNotRegistered):
		response.Fail(c, http.StatusForbidden, response.ErrNotRegistered)
	case errors.Is(err, service.ErrRegistrationFinal):
		response.Fail(c, http.StatusForbidden, response.ErrRegistrationFinal)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrInvalidAnswers):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, map[string]string{"answers": err.Error()})
	case errors.Is(err, service.ErrMessageTarget):
		response.Fail(c, http.StatusBadRequest, response.ErrMessageTargetUnset)
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func parseExamID(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}
