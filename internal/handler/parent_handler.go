package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-activation-api/internal/dto"
	appErrors "github.com/noah-isme/account-activation-api/pkg/errors"
	"github.com/noah-isme/account-activation-api/pkg/response"
)

type parentAccountService interface {
	Status(ctx context.Context, parentID string) (*dto.ParentStatusContext, error)
	SetAccountEnabled(ctx context.Context, parentID string, req dto.SetParentAccountRequest, actorID string) (*dto.ParentStatusContext, error)
	LinkStudent(ctx context.Context, parentID string, req dto.LinkStudentRequest, actorID string) (*dto.ParentStatusContext, error)
	UnlinkStudent(ctx context.Context, parentID, studentID, actorID string) (*dto.ParentStatusContext, error)
}

// ParentHandler exposes parent account endpoints.
type ParentHandler struct {
	service parentAccountService
}

// NewParentHandler builds a new handler.
func NewParentHandler(service parentAccountService) *ParentHandler {
	return &ParentHandler{service: service}
}

// Status godoc
// @Summary Get the computed status of a parent account
// @Tags Parents
// @Produce json
// @Param id path string true "Parent ID"
// @Success 200 {object} response.Envelope
// @Router /parents/{id}/status [get]
func (h *ParentHandler) Status(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// SetAccount godoc
// @Summary Enable or disable a parent account
// @Description Disabling sets an admin override that cascades do not undo; enabling clears it.
// @Tags Parents
// @Accept json
// @Produce json
// @Param id path string true "Parent ID"
// @Param payload body dto.SetParentAccountRequest true "Account flag"
// @Success 200 {object} response.Envelope
// @Router /parents/{id}/account [put]
func (h *ParentHandler) SetAccount(c *gin.Context) {
	var req dto.SetParentAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}
	status, err := h.service.SetAccountEnabled(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Link godoc
// @Summary Link a student to a parent
// @Tags Parents
// @Accept json
// @Produce json
// @Param id path string true "Parent ID"
// @Param payload body dto.LinkStudentRequest true "Student link"
// @Success 201 {object} response.Envelope
// @Router /parents/{id}/students [post]
func (h *ParentHandler) Link(c *gin.Context) {
	var req dto.LinkStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid link payload"))
		return
	}
	status, err := h.service.LinkStudent(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, status, nil)
}

// Unlink godoc
// @Summary Remove a student link from a parent
// @Tags Parents
// @Produce json
// @Param id path string true "Parent ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /parents/{id}/students/{studentId} [delete]
func (h *ParentHandler) Unlink(c *gin.Context) {
	status, err := h.service.UnlinkStudent(c.Request.Context(), c.Param("id"), c.Param("studentId"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
