package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/response"
)

type accessService interface {
	CheckUserAccess(ctx context.Context, userID string) (*dto.AccessDecision, error)
	History(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error)
}

// AccessHandler reports sign-in eligibility.
type AccessHandler struct {
	service accessService
}

// NewAccessHandler builds a new handler.
func NewAccessHandler(service accessService) *AccessHandler {
	return &AccessHandler{service: service}
}

// Check godoc
// @Summary Check whether a user may sign in
// @Tags Access
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/access [get]
func (h *AccessHandler) Check(c *gin.Context) {
	decision, err := h.service.CheckUserAccess(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// History godoc
// @Summary List account activity for a user
// @Tags Access
// @Produce json
// @Param id path string true "User ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/activity [get]
func (h *AccessHandler) History(c *gin.Context) {
	records, err := h.service.History(c.Request.Context(), c.Param("id"), queryInt(c, "limit", 50))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}
