package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type OverrideHandler struct {
	OverrideService *services.OverrideService
}

func NewOverrideHandler(overrideService *services.OverrideService) *OverrideHandler {
	return &OverrideHandler{
		OverrideService: overrideService,
	}
}

// CreateOverride creates a new schedule override
func (h *OverrideHandler) CreateOverride(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateScheduleOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	override, err := h.OverrideService.CreateOverride(c.Request.Context(), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, override)
}

// ListOverrides returns active overrides for a group, optionally within ?from=&to= (RFC3339)
func (h *OverrideHandler) ListOverrides(c *gin.Context) {
	groupID := c.Param("id")
	if groupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Group ID is required"})
		return
	}

	from, err := optionalTime(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from: " + err.Error()})
		return
	}
	to, err := optionalTime(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to: " + err.Error()})
		return
	}

	overrides, err := h.OverrideService.ListOverrides(c.Request.Context(), groupID, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"overrides": overrides})
}

// DeleteOverride deactivates an override
func (h *OverrideHandler) DeleteOverride(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.OverrideService.DeleteOverride(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Override deleted successfully"})
}

func optionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
