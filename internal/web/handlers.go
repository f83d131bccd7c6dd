// internal/web/handlers.go - availability, event and polling endpoints
package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"netavail/internal/availability"
	"netavail/internal/database"
	"netavail/internal/inventory"
	"netavail/internal/monitoring"
)

const defaultReportWindow = 24 * time.Hour

type EventRequest struct {
	Status     database.Status `json:"status" binding:"required"`
	OccurredAt *time.Time      `json:"occurred_at"`
	Method     string          `json:"detection_method"`
	Reason     string          `json:"reason"`
}

type FastPollRequest struct {
	MaxRetries  int  `json:"max_retries"`
	BaseDelayMS int  `json:"base_delay_ms"`
	Record      bool `json:"record"`
}

type AcknowledgeRequest struct {
	By string `json:"by" binding:"required"`
}

type PollingResponse struct {
	AccountID string                     `json:"account_id"`
	Running   bool                       `json:"running"`
	Devices   []monitoring.StateSnapshot `json:"devices"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, availability.ErrInvalidRange),
		errors.Is(err, database.ErrInvalidEvent),
		errors.Is(err, availability.ErrInvalidTarget),
		errors.Is(err, availability.ErrInvalidWindow),
		errors.Is(err, availability.ErrInvalidRecurrence):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound), errors.Is(err, monitoring.ErrUnknownAccount):
		return http.StatusNotFound
	case errors.Is(err, database.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, message string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error(message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

// parseWindow reads start and end as RFC3339, defaulting to the last 24h.
func (s *Server) parseWindow(c *gin.Context) (time.Time, time.Time, error) {
	end := s.engine.Clock().Now()
	if v := c.Query("end"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad end: %v", availability.ErrInvalidRange, err)
		}
		end = parsed
	}

	start := end.Add(-defaultReportWindow)
	if v := c.Query("start"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: bad start: %v", availability.ErrInvalidRange, err)
		}
		start = parsed
	}
	return start, end, nil
}

func (s *Server) getAccounts(c *gin.Context) {
	accounts := s.engine.Accounts()
	c.JSON(http.StatusOK, gin.H{
		"data":  accounts,
		"count": len(accounts),
	})
}

// GET /api/accounts/:account/devices/:device/availability
func (s *Server) getAvailability(c *gin.Context) {
	start, end, err := s.parseWindow(c)
	if err != nil {
		respondError(c, err, "Invalid time range")
		return
	}

	report, err := s.engine.Availability(c.Request.Context(), c.Param("account"), c.Param("device"), start, end)
	if err != nil {
		respondError(c, err, "Failed to compute availability")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

// GET /api/accounts/:account/devices/:device/sla
func (s *Server) getSLA(c *gin.Context) {
	start, end, err := s.parseWindow(c)
	if err != nil {
		respondError(c, err, "Invalid time range")
		return
	}

	target := s.config.Availability.DefaultSLATarget
	if v := c.Query("target"); v != "" {
		target, err = strconv.ParseFloat(v, 64)
		if err != nil {
			respondError(c, fmt.Errorf("%w: %v", availability.ErrInvalidTarget, err), "Invalid SLA target")
			return
		}
	}

	result, err := s.engine.EvaluateSLA(c.Request.Context(), c.Param("account"), c.Param("device"), start, end, target)
	if err != nil {
		respondError(c, err, "Failed to evaluate SLA")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GET /api/accounts/:account/devices/:device/events
func (s *Server) getEvents(c *gin.Context) {
	start, end, err := s.parseWindow(c)
	if err != nil {
		respondError(c, err, "Invalid time range")
		return
	}

	events, err := s.engine.Store().GetEvents(c.Request.Context(), c.Param("account"), c.Param("device"), start, end)
	if err != nil {
		respondError(c, err, "Failed to get events")
		return
	}
	if events == nil {
		events = []database.StateChangeEvent{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"count": len(events),
	})
}

// POST /api/accounts/:account/devices/:device/events
func (s *Server) ingestEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != database.StatusUp && req.Status != database.StatusDown {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be up or down"})
		return
	}

	event := &database.StateChangeEvent{
		AccountID:       c.Param("account"),
		DeviceID:        c.Param("device"),
		Status:          req.Status,
		DetectionMethod: database.DetectionMethod(req.Method),
		Reason:          req.Reason,
	}
	switch event.DetectionMethod {
	case "", database.DetectionTrap, database.DetectionPolling, database.DetectionFastPolling:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown detection method"})
		return
	}
	if req.OccurredAt != nil {
		event.OccurredAt = *req.OccurredAt
	}

	incident, err := s.engine.IngestEvent(c.Request.Context(), event)
	if err != nil {
		respondError(c, err, "Failed to record event")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":     event,
		"incident": incident,
	})
}

// POST /api/accounts/:account/devices/:device/fastpoll
func (s *Server) fastPoll(c *gin.Context) {
	var req FastPollRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxRetries < 0 || req.BaseDelayMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_retries and base_delay_ms must not be negative"})
		return
	}
	if req.MaxRetries > monitoring.MaxFastPollRetries {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("max_retries must not exceed %d", monitoring.MaxFastPollRetries)})
		return
	}

	result, err := s.engine.ConfirmDevice(c.Request.Context(), c.Param("account"), c.Param("device"),
		req.MaxRetries, time.Duration(req.BaseDelayMS)*time.Millisecond, req.Record)
	if err != nil {
		respondError(c, err, "Fast-poll failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// GET /api/accounts/:account/incidents
func (s *Server) getIncidents(c *gin.Context) {
	filters := database.IncidentFilters{
		AccountID: c.Param("account"),
		DeviceID:  c.Query("device"),
	}
	if v := c.Query("acknowledged"); v != "" {
		acknowledged, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "acknowledged must be true or false"})
			return
		}
		filters.Acknowledged = &acknowledged
	}
	if v := c.Query("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	incidents, err := s.engine.Store().GetIncidents(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err, "Failed to get incidents")
		return
	}
	if incidents == nil {
		incidents = []database.FlappingIncident{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  incidents,
		"count": len(incidents),
	})
}

// POST /api/incidents/:id/acknowledge
func (s *Server) acknowledgeIncident(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	incident, err := s.engine.AcknowledgeIncident(c.Request.Context(), c.Param("id"), req.By)
	if err != nil {
		respondError(c, err, "Failed to acknowledge incident")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": incident})
}

func (s *Server) getPolling(c *gin.Context) {
	accountID := c.Param("account")
	running, states, err := s.engine.PollingStates(accountID)
	if err != nil {
		respondError(c, err, "Unknown account")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": PollingResponse{
		AccountID: accountID,
		Running:   running,
		Devices:   states,
	}})
}

func (s *Server) startPolling(c *gin.Context) {
	if err := s.engine.StartPolling(c.Param("account")); err != nil {
		respondError(c, err, "Failed to start polling")
		return
	}
	s.getPolling(c)
}

func (s *Server) stopPolling(c *gin.Context) {
	if err := s.engine.StopPolling(c.Param("account")); err != nil {
		respondError(c, err, "Failed to stop polling")
		return
	}
	s.getPolling(c)
}
