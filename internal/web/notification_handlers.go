// internal/web/notification_handlers.go - Web handlers for Pushover notifications
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// PushoverSettings is the read-only view of the Pushover configuration.
type PushoverSettings struct {
	Enabled      bool             `json:"enabled"`
	APIToken     string           `json:"api_token"`
	UserKey      string           `json:"user_key"`
	Priority     int              `json:"priority"`
	Sound        string           `json:"sound"`
	Device       string           `json:"device"`
	Title        string           `json:"title"`
	Template     string           `json:"template"`
	OnlySeverity []string         `json:"only_severity"`
	Throttle     ThrottleSettings `json:"throttle"`
}

type ThrottleSettings struct {
	Enabled      bool `json:"enabled"`
	WindowMin    int  `json:"window_minutes"`
	MaxPerDevice int  `json:"max_per_device"`
	MaxTotal     int  `json:"max_total"`
}

type TestNotificationRequest struct {
	Message string `json:"message" binding:"required"`
}

type NotificationStatsResponse struct {
	PushoverEnabled bool                   `json:"pushover_enabled"`
	ThrottleEnabled bool                   `json:"throttle_enabled"`
	Stats           map[string]interface{} `json:"stats"`
}

func (s *Server) setupNotificationRoutes() {
	notifications := s.router.Group("/api/notifications")
	{
		notifications.GET("/settings", s.getNotificationSettings)
		notifications.POST("/test", s.sendTestNotification)
		notifications.GET("/stats", s.getNotificationStats)
		notifications.GET("/template-variables", s.getNotificationTemplateVariables)
	}
}

func (s *Server) getNotificationSettings(c *gin.Context) {
	cfg := s.config.Notifications.Pushover

	c.JSON(http.StatusOK, gin.H{"data": PushoverSettings{
		Enabled:      cfg.Enabled,
		APIToken:     maskToken(cfg.APIToken),
		UserKey:      maskToken(cfg.UserKey),
		Priority:     cfg.Priority,
		Sound:        cfg.Sound,
		Device:       cfg.Device,
		Title:        cfg.Title,
		Template:     cfg.Template,
		OnlySeverity: cfg.OnlySeverity,
		Throttle: ThrottleSettings{
			Enabled:      cfg.Throttle.Enabled,
			WindowMin:    int(cfg.Throttle.Window.Minutes()),
			MaxPerDevice: cfg.Throttle.MaxPerDevice,
			MaxTotal:     cfg.Throttle.MaxTotal,
		},
	}})
}

// POST /api/notifications/test - Send a test notification
func (s *Server) sendTestNotification(c *gin.Context) {
	var req TestNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notifier := s.engine.Notifier()
	if notifier == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pushover notifications are not enabled"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := notifier.TestNotification(ctx, req.Message); err != nil {
		logrus.WithError(err).Error("Failed to send test notification")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send test notification: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Test notification sent successfully",
		"timestamp": s.engine.Clock().Now(),
	})
}

func (s *Server) getNotificationStats(c *gin.Context) {
	response := NotificationStatsResponse{
		PushoverEnabled: s.config.Notifications.Pushover.Enabled,
		ThrottleEnabled: s.config.Notifications.Pushover.Throttle.Enabled,
		Stats:           map[string]interface{}{},
	}
	if notifier := s.engine.Notifier(); notifier != nil {
		response.Stats = notifier.Stats()
	}

	c.JSON(http.StatusOK, gin.H{"data": response})
}

func (s *Server) getNotificationTemplateVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": []gin.H{
		{"name": "{{.ID}}", "description": "Incident ID"},
		{"name": "{{.Account}}", "description": "Account ID"},
		{"name": "{{.Device}}", "description": "Device ID"},
		{"name": "{{.Transitions}}", "description": "Status transitions in the window"},
		{"name": "{{.Window}}", "description": "Detection window"},
		{"name": "{{.Severity}}", "description": "low, medium or high"},
		{"name": "{{.Start}}", "description": "Window start (RFC3339)"},
		{"name": "{{.End}}", "description": "Window end (RFC3339)"},
	}})
}

// maskToken masks sensitive tokens for API responses
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "***" + token[len(token)-4:]
}
