// internal/web/downtime_handlers.go - planned downtime windows
package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"netavail/internal/database"
)

type DowntimeRequest struct {
	DeviceID  string              `json:"device_id"`
	Title     string              `json:"title"`
	StartTime time.Time           `json:"start_time" binding:"required"`
	EndTime   time.Time           `json:"end_time" binding:"required"`
	Recurring database.Recurrence `json:"recurring"`
}

func (s *Server) getDowntimes(c *gin.Context) {
	windows, err := s.engine.Store().GetDowntimes(c.Request.Context(), database.DowntimeFilters{
		AccountID: c.Param("account"),
		DeviceID:  c.Query("device"),
	})
	if err != nil {
		respondError(c, err, "Failed to get downtime windows")
		return
	}
	if windows == nil {
		windows = []database.PlannedDowntimeWindow{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  windows,
		"count": len(windows),
	})
}

func (s *Server) createDowntime(c *gin.Context) {
	var req DowntimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window := &database.PlannedDowntimeWindow{
		AccountID: c.Param("account"),
		DeviceID:  req.DeviceID,
		Title:     req.Title,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Recurring: req.Recurring,
	}
	if err := s.engine.Downtime().CreatePlannedDowntime(c.Request.Context(), window); err != nil {
		respondError(c, err, "Failed to create downtime window")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": window})
}

func (s *Server) getDowntime(c *gin.Context) {
	window, err := s.engine.Store().GetDowntime(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Downtime window not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": window})
}

// PUT /api/downtime/:id replaces the window's schedule; account and device
// stay as created.
func (s *Server) updateDowntime(c *gin.Context) {
	var req DowntimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	window, err := s.engine.Store().GetDowntime(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Downtime window not found")
		return
	}

	window.Title = req.Title
	window.StartTime = req.StartTime
	window.EndTime = req.EndTime
	window.Recurring = req.Recurring

	if err := s.engine.Downtime().UpdatePlannedDowntime(c.Request.Context(), window); err != nil {
		respondError(c, err, "Failed to update downtime window")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": window})
}

func (s *Server) deleteDowntime(c *gin.Context) {
	if err := s.engine.Store().DeleteDowntime(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete downtime window")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Downtime window deleted"})
}
