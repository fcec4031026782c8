package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/oncall/services"
	"github.com/sirupsen/logrus"
)

// respondError maps the service error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	var conflict *services.ConflictError
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		body := gin.H{"error": conflict.Error()}
		if conflict.ConflictingShiftID != "" {
			body["conflicting_shift_id"] = conflict.ConflictingShiftID
		}
		if conflict.CurrentLevel > 0 {
			body["current_level"] = conflict.CurrentLevel
		}
		c.JSON(http.StatusConflict, body)
	default:
		logrus.WithField("path", c.FullPath()).Errorf("Request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
