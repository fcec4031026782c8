package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/oncall/services"
)

type OnCallHandler struct {
	OnCallService *services.OnCallService
}

func NewOnCallHandler(onCallService *services.OnCallService) *OnCallHandler {
	return &OnCallHandler{OnCallService: onCallService}
}

// GetEffectiveAssignment returns who is on call for a group.
// Query: service_id (optional), at (RFC3339, defaults to now).
func (h *OnCallHandler) GetEffectiveAssignment(c *gin.Context) {
	at := time.Now().UTC()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid at: " + err.Error()})
			return
		}
		at = parsed
	}

	var serviceID *string
	if raw := c.Query("service_id"); raw != "" {
		serviceID = &raw
	}

	assignment, err := h.OnCallService.GetEffectiveAssignment(c.Request.Context(), c.Param("id"), serviceID, at)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"on_call":    assignment != nil,
		"assignment": assignment,
	})
}
