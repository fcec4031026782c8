package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/oncall/db"
	"github.com/phonginreallife/oncall/services"
)

type IncidentHandler struct {
	IncidentService   *services.IncidentService
	EscalationService *services.EscalationService
}

func NewIncidentHandler(incidentService *services.IncidentService, escalationService *services.EscalationService) *IncidentHandler {
	return &IncidentHandler{
		IncidentService:   incidentService,
		EscalationService: escalationService,
	}
}

// CreateEscalationPolicy creates a policy with its levels for a group
func (h *IncidentHandler) CreateEscalationPolicy(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateEscalationPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.EscalationService.CreateEscalationPolicy(c.Request.Context(), c.Param("id"), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, policy)
}

func (h *IncidentHandler) GetEscalationPolicy(c *gin.Context) {
	policy, err := h.EscalationService.GetEscalationPolicy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, policy)
}

// CreateIncident creates an incident and auto-assigns it from the escalation policy
func (h *IncidentHandler) CreateIncident(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req db.CreateIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := h.IncidentService.CreateIncident(c.Request.Context(), req, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, incident)
}

func (h *IncidentHandler) GetIncident(c *gin.Context) {
	incident, err := h.IncidentService.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, incident)
}

// EscalateIncident advances an incident to its next escalation level
func (h *IncidentHandler) EscalateIncident(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	result, err := h.EscalationService.AdvanceEscalation(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *IncidentHandler) AcknowledgeIncident(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.IncidentService.AcknowledgeIncident(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Incident acknowledged"})
}

func (h *IncidentHandler) ResolveIncident(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Resolution string `json:"resolution"`
	}
	// Body is optional
	_ = c.ShouldBindJSON(&req)

	if err := h.IncidentService.ResolveIncident(c.Request.Context(), c.Param("id"), userID, req.Resolution); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Incident resolved"})
}
