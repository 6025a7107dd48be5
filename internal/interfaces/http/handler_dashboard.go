package http

import (
	"net/http"
	"strconv"

	"convertapi/internal/entities"

	"github.com/gin-gonic/gin"
)

// Usage returns the caller's counters, limits and what is left.
func (h *Handler) Usage(c *gin.Context) {
	usage, err := h.svc.Dashboard.Usage(c.Request.Context(), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, usage)
}

// Conversions lists the caller's jobs, newest first. ?limit= caps the page.
func (h *Handler) Conversions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, &entities.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = n
	}
	jobs, err := h.svc.Dashboard.Conversions(c.Request.Context(), identityFrom(c).UserID(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]entities.JobStatusView, len(jobs))
	for i := range jobs {
		views[i] = jobs[i].View()
	}
	respond(c, http.StatusOK, views)
}

func (h *Handler) Plan(c *gin.Context) {
	plan, err := h.svc.Dashboard.Plan(c.Request.Context(), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, plan)
}
