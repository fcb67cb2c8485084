package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/hourglass/internal/middleware"
	"github.com/stemsi/hourglass/internal/model"
	"github.com/stemsi/hourglass/internal/response"
	"github.com/stemsi/hourglass/internal/service"
	"github.com/stemsi/hourglass/internal/validator"
)

// ProctorHandler serves staff endpoints for a running exam.
type ProctorHandler struct {
	proctorService *service.ProctorService
}

// NewProctorHandler creates a new ProctorHandler.
func NewProctorHandler(proctorService *service.ProctorService) *ProctorHandler {
	return &ProctorHandler{proctorService: proctorService}
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}

// SendMessage godoc
// POST /api/proctor/exams/:exam_id/messages
// Sends a personal, room, version or exam-wide message.
func (h *ProctorHandler) SendMessage(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseExamID(c)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	msg, err := h.proctorService.SendMessage(c.Request.Context(), examID, claims.UserID, &req)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// ListMessages godoc
// GET /api/proctor/exams/:exam_id/messages
func (h *ProctorHandler) ListMessages(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}
	msgs, err := h.proctorService.ListMessages(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"messages": msgs})
}

// ListAnomalies godoc
// GET /api/proctor/exams/:exam_id/anomalies
func (h *ProctorHandler) ListAnomalies(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}
	anomalies, err := h.proctorService.ListAnomalies(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"anomalies": anomalies})
}

// ForgiveAnomaly godoc
// DELETE /api/proctor/anomalies/:anomaly_id
// Forgives an anomaly; the student may resume once none remain.
func (h *ProctorHandler) ForgiveAnomaly(c *gin.Context) {
	id, ok := parseInt64Param(c, "anomaly_id")
	if !ok {
		return
	}
	if err := h.proctorService.ForgiveAnomaly(c.Request.Context(), id); err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"forgiven": true})
}

// ListQuestions godoc
// GET /api/proctor/exams/:exam_id/questions
func (h *ProctorHandler) ListQuestions(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}
	questions, err := h.proctorService.ListQuestions(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// FinalizeExam godoc
// POST /api/proctor/exams/:exam_id/finalize
func (h *ProctorHandler) FinalizeExam(c *gin.Context) {
	examID, ok := parseExamID(c)
	if !ok {
		return
	}
	n, err := h.proctorService.FinalizeExam(c.Request.Context(), examID)
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"finalized": n})
}

// FinalizeRegistration godoc
// POST /api/proctor/registrations/:registration_id/finalize
func (h *ProctorHandler) FinalizeRegistration(c *gin.Context) {
	id, ok := parseInt64Param(c, "registration_id")
	if !ok {
		return
	}
	if err := h.proctorService.FinalizeRegistration(c.Request.Context(), id); err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"finalized": 1})
}
