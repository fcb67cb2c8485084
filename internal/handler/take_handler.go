package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/hourglass/internal/middleware"
	"github.com/stemsi/hourglass/internal/model"
	"github.com/stemsi/hourglass/internal/response"
	"github.com/stemsi/hourglass/internal/service"
	"github.com/stemsi/hourglass/internal/validator"
)

// TakeHandler serves the student endpoints of an attempt.
type TakeHandler struct {
	takeService *service.TakeService
}

// NewTakeHandler creates a new TakeHandler.
func NewTakeHandler(takeService *service.TakeService) *TakeHandler {
	return &TakeHandler{takeService: takeService}
}

// GetExamInfo godoc
// GET /api/student/exams/:exam_id
// Returns the exam name, window and lockdown policies. The route also issues
// the forgery protection cookie.
func (h *TakeHandler) GetExamInfo(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusForbidden, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	info, err := h.takeService.Info(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, info)
}

// Take godoc
// POST /api/student/exams/:exam_id/take
// Dispatches on the task field: start, snapshot, submit or question.
func (h *TakeHandler) Take(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusForbidden, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var req model.TakeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := c.Request.Context()
	switch req.Task {
	case model.TaskStart:
		resp, err := h.takeService.Start(ctx, examID, claims.UserID)
		if err != nil {
			failFromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, resp)

	case model.TaskSnapshot:
		resp, err := h.takeService.Snapshot(ctx, examID, claims.UserID, req.Answers, req.LastMessageID)
		if err != nil {
			failFromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, resp)

	case model.TaskSubmit:
		resp, err := h.takeService.Submit(ctx, examID, claims.UserID, req.Answers)
		if err != nil {
			failFromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, resp)

	case model.TaskQuestion:
		if req.Question == nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{"question": "question is a required field"})
			return
		}
		resp, err := h.takeService.Question(ctx, examID, claims.UserID, req.Question.Body)
		if err != nil {
			failFromError(c, err)
			return
		}
		response.Success(c, http.StatusOK, resp)

	default:
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownTask)
	}
}

// ReportAnomaly godoc
// POST /api/student/exams/:exam_id/anomaly
// Records an integrity violation detected by the client and locks the attempt.
func (h *TakeHandler) ReportAnomaly(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusForbidden, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var req model.AnomalyRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.takeService.ReportAnomaly(c.Request.Context(), examID, claims.UserID, req.Reason); err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"recorded": true})
}
