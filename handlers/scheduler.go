package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type SchedulerHandler struct {
	SchedulerService *services.SchedulerService
	RotationService  *services.RotationService
}

func NewSchedulerHandler(schedulerService *services.SchedulerService, rotationService *services.RotationService) *SchedulerHandler {
	return &SchedulerHandler{
		SchedulerService: schedulerService,
		RotationService:  rotationService,
	}
}

// CreateScheduler creates a scheduler in a group
func (h *SchedulerHandler) CreateScheduler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateSchedulerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scheduler, err := h.SchedulerService.CreateScheduler(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, scheduler)
}

// ListSchedulers returns the active schedulers of a group
func (h *SchedulerHandler) ListSchedulers(c *gin.Context) {
	schedulers, err := h.SchedulerService.ListSchedulers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"schedulers": schedulers})
}

// GetScheduler returns a scheduler with its active shifts
func (h *SchedulerHandler) GetScheduler(c *gin.Context) {
	scheduler, err := h.SchedulerService.GetSchedulerWithShifts(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, scheduler)
}

// ReplaceShifts regenerates or replaces every shift of a scheduler
func (h *SchedulerHandler) ReplaceShifts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.ReplaceShiftsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.SchedulerService.ReplaceSchedulerShifts(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CreateShift adds a single manual shift
func (h *SchedulerHandler) CreateShift(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shift, err := h.SchedulerService.CreateShift(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, shift)
}

// DeleteScheduler deactivates a scheduler with its shifts and overrides
func (h *SchedulerHandler) DeleteScheduler(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.SchedulerService.DeleteScheduler(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scheduler deleted successfully"})
}

// SwapShifts exchanges the users of two shifts
func (h *SchedulerHandler) SwapShifts(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.ShiftSwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.RotationService.SwapShifts(c.Request.Context(), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// PreviewRotation returns the shifts a rotation would generate without saving them
func (h *SchedulerHandler) PreviewRotation(c *gin.Context) {
	var req db.RotationParams
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shifts, err := h.RotationService.PreviewRotation(req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shifts": shifts, "total": len(shifts)})
}

// CreateGroupShift adds a manual shift to the group's default scheduler
func (h *SchedulerHandler) CreateGroupShift(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shift, err := h.SchedulerService.CreateGroupShift(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, shift)
}

// ListGroupShifts returns a group's shifts within ?from=&to= (RFC3339), defaulting to the next 7 days
func (h *SchedulerHandler) ListGroupShifts(c *gin.Context) {
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

	start := time.Now().UTC()
	if from != nil {
		start = *from
	}
	end := start.Add(7 * 24 * time.Hour)
	if to != nil {
		end = *to
	}

	shifts, err := h.SchedulerService.ListGroupShifts(c.Request.Context(), c.Param("id"), start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"shifts": shifts, "total": len(shifts)})
}

// GetShift returns one active shift
func (h *SchedulerHandler) GetShift(c *gin.Context) {
	shift, err := h.SchedulerService.GetShift(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, shift)
}

// GetRotationCycle returns the scheduler's active rotation cycle
func (h *SchedulerHandler) GetRotationCycle(c *gin.Context) {
	schedulerID := c.Param("id")
	cycle, err := h.RotationService.GetActiveRotationCycle(c.Request.Context(), schedulerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if cycle == nil {
		respondError(c, &services.NotFoundError{Resource: "rotation cycle", ID: schedulerID})
		return
	}

	c.JSON(http.StatusOK, cycle)
}
