package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/middleware"
	"github.com/noah-isme/account-activation-api/internal/models"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
	"github.com/noah-isme/account-activation-api/pkg/response"
)

type cascadeService interface {
	TransitionStudentStatus(ctx context.Context, studentID, requested, actorID string) (*dto.TransitionResult, error)
	BulkTransition(ctx context.Context, req dto.BulkTransitionRequest, actorID string) (*dto.BulkTransitionResult, error)
}

type studentStatusReader interface {
	Get(ctx context.Context, studentID string) (*dto.StudentStatusView, error)
	ListByStatus(ctx context.Context, status string, page, size int) ([]dto.StudentStatusView, *models.Pagination, error)
	Stats(ctx context.Context) (*dto.StatusStats, bool, error)
}

// StudentStatusHandler exposes enrollment status endpoints.
type StudentStatusHandler struct {
	cascade cascadeService
	reader  studentStatusReader
}

// NewStudentStatusHandler builds a new handler.
func NewStudentStatusHandler(cascade cascadeService, reader studentStatusReader) *StudentStatusHandler {
	return &StudentStatusHandler{cascade: cascade, reader: reader}
}

// Transition godoc
// @Summary Change a student's enrollment status
// @Description Updates the student, its account and linked parent accounts in one transaction.
// @Tags Student Status
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body dto.TransitionStatusRequest true "Requested status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/status [patch]
func (h *StudentStatusHandler) Transition(c *gin.Context) {
	var req dto.TransitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	result, err := h.cascade.TransitionStudentStatus(c.Request.Context(), c.Param("id"), req.Status, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Bulk godoc
// @Summary Change the status of many students
// @Description Each student is committed independently; failures are reported per id.
// @Tags Student Status
// @Accept json
// @Produce json
// @Param payload body dto.BulkTransitionRequest true "Students and status"
// @Success 200 {object} response.Envelope
// @Router /students/status/bulk [post]
func (h *StudentStatusHandler) Bulk(c *gin.Context) {
	var req dto.BulkTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk payload"))
		return
	}
	result, err := h.cascade.BulkTransition(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if len(result.Succeeded) > 0 && len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil, map[string]interface{}{
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
	})
}

// Get godoc
// @Summary Get a student's enrollment status
// @Tags Student Status
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/status [get]
func (h *StudentStatusHandler) Get(c *gin.Context) {
	view, err := h.reader.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// List godoc
// @Summary List students by enrollment status
// @Tags Student Status
// @Produce json
// @Param status query string true "ACTIVE, GRADUATED, TRANSFERRED or WITHDRAWN"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentStatusHandler) List(c *gin.Context) {
	status := c.Query("status")
	if status == "" {
		status = string(models.EnrollmentStatusActive)
	}
	views, pagination, err := h.reader.ListByStatus(c.Request.Context(), status, queryInt(c, "page", 1), queryInt(c, "limit", 20))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, pagination)
}

// Stats godoc
// @Summary Student counts per enrollment status
// @Tags Student Status
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /students/status/stats [get]
func (h *StudentStatusHandler) Stats(c *gin.Context) {
	stats, hit, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, stats, nil, middleware.ExtractMeta(c))
}
