package http

import (
	"errors"
	"io"
	"net/http"

	"convertapi/internal/entities"
	"convertapi/internal/usecases"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	dashboard  *usecases.DashboardUsecase
	middleware *Middleware
}

func NewAdminHandler(dashboard *usecases.DashboardUsecase, middleware *Middleware) *AdminHandler {
	return &AdminHandler{dashboard: dashboard, middleware: middleware}
}

type changePlanRequest struct {
	Plan               string `json:"plan" binding:"required"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

type resetUsageRequest struct {
	Scope string `json:"scope"`
}

// ChangePlan sets a user's plan and subscription status (billing callback).
func (h *AdminHandler) ChangePlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	user, err := h.dashboard.ChangePlan(c.Request.Context(), c.Param("id"),
		entities.Plan(req.Plan), entities.SubscriptionStatus(req.SubscriptionStatus))
	if err != nil {
		respondError(c, err)
		return
	}
	h.middleware.ResetUserLimit(user.ID)
	respond(c, http.StatusOK, user)
}

// ResetUsage zeroes a user's counters. Scope defaults to both.
func (h *AdminHandler) ResetUsage(c *gin.Context) {
	var req resetUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindError(err))
		return
	}
	user, err := h.dashboard.ResetUsage(c.Request.Context(), c.Param("id"), entities.UsageScope(req.Scope))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, user)
}
