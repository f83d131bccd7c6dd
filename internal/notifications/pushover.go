// internal/notifications/pushover.go - Pushover delivery of flapping incidents
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/config"
	"netavail/internal/database"
)

const UserAgent = "netavail/1.0"

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
	Token     string `json:"token"`
	User      string `json:"user"`
	Message   string `json:"message"`
	Title     string `json:"title,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Retry     int    `json:"retry,omitempty"`
	Expire    int    `json:"expire,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Device    string `json:"device,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
	Status int      `json:"status"`
	Errors []string `json:"errors,omitempty"`
}

// incidentData is what title and message templates see.
type incidentData struct {
	ID          string
	Account     string
	Device      string
	Transitions int
	Window      time.Duration
	Severity    database.Severity
	Start       string
	End         string
}

// PushoverNotifier sends a Pushover message for every new flapping incident.
type PushoverNotifier struct {
	config     *config.PushoverConfig
	httpClient *http.Client
	clock      clockwork.Clock
	throttler  *Throttler
	title      *template.Template
	message    *template.Template
	wg         sync.WaitGroup
}

func NewPushoverNotifier(cfg *config.PushoverConfig, clock clockwork.Clock) (*PushoverNotifier, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	title, err := template.New("title").Parse(cfg.Title)
	if err != nil {
		return nil, fmt.Errorf("failed to parse title template: %w", err)
	}
	message, err := template.New("message").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}

	n := &PushoverNotifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      clock,
		title:      title,
		message:    message,
	}
	if cfg.Throttle.Enabled {
		n.throttler = NewThrottler(&cfg.Throttle, clock)
	}

	logrus.WithFields(logrus.Fields{
		"priority":         cfg.Priority,
		"throttle_enabled": cfg.Throttle.Enabled,
	}).Info("Pushover notifications enabled")

	return n, nil
}

// OnFlappingIncident dispatches in the background so the event log append
// that raised the incident is not held up by delivery.
func (n *PushoverNotifier) OnFlappingIncident(incident *database.FlappingIncident) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := n.Notify(ctx, incident); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"account":  incident.AccountID,
				"device":   incident.DeviceID,
				"incident": incident.ID,
			}).Error("Failed to send flapping notification")
		}
	}()
}

// Wait blocks until background deliveries have finished.
func (n *PushoverNotifier) Wait() {
	n.wg.Wait()
}

// Notify sends the incident unless it is filtered, in quiet hours or
// throttled. It reports whether a message was sent.
func (n *PushoverNotifier) Notify(ctx context.Context, incident *database.FlappingIncident) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"account":  incident.AccountID,
		"device":   incident.DeviceID,
		"severity": incident.Severity,
	})

	if !n.shouldNotify(incident.Severity) {
		log.Debug("Skipping notification based on severity filter")
		return false, nil
	}
	if n.config.QuietHours.IsQuietTime(n.clock.Now()) {
		log.Debug("Skipping notification during quiet hours")
		return false, nil
	}

	deviceKey := incident.AccountID + "/" + incident.DeviceID
	if n.throttler != nil && n.throttler.IsThrottled(deviceKey) {
		log.Debug("Notification throttled")
		return false, nil
	}

	message, err := n.buildMessage(incident)
	if err != nil {
		return false, fmt.Errorf("failed to build message: %w", err)
	}
	if err := n.send(ctx, message); err != nil {
		return false, err
	}

	if n.throttler != nil {
		n.throttler.RecordNotification(deviceKey)
	}
	return true, nil
}

func (n *PushoverNotifier) shouldNotify(severity database.Severity) bool {
	if len(n.config.OnlySeverity) == 0 {
		return true
	}
	for _, s := range n.config.OnlySeverity {
		if s == string(severity) {
			return true
		}
	}
	return false
}

func (n *PushoverNotifier) buildMessage(incident *database.FlappingIncident) (*PushoverMessage, error) {
	data := incidentData{
		ID:          incident.ID,
		Account:     incident.AccountID,
		Device:      incident.DeviceID,
		Transitions: incident.TransitionCount,
		Window:      time.Duration(incident.WindowSeconds) * time.Second,
		Severity:    incident.Severity,
		Start:       incident.StartTime.Format("2006-01-02 15:04:05"),
		End:         incident.EndTime.Format("2006-01-02 15:04:05"),
	}

	var title, body bytes.Buffer
	if err := n.title.Execute(&title, data); err != nil {
		return nil, fmt.Errorf("failed to render title: %w", err)
	}
	if err := n.message.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	message := &PushoverMessage{
		Token:     n.config.APIToken,
		User:      n.config.UserKey,
		Title:     title.String(),
		Message:   severityEmoji(incident.Severity) + " " + body.String(),
		Priority:  n.config.Priority,
		Sound:     n.config.Sound,
		Device:    n.config.Device,
		Timestamp: incident.EndTime.Unix(),
	}
	if n.config.Priority == 2 {
		message.Retry = n.config.Retry
		message.Expire = n.config.Expire
	}
	return message, nil
}

func (n *PushoverNotifier) send(ctx context.Context, message *PushoverMessage) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.APIURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var pushoverResp PushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if pushoverResp.Status != 1 {
		return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
	}

	logrus.WithFields(logrus.Fields{
		"title":    message.Title,
		"priority": message.Priority,
	}).Info("Pushover notification sent")
	return nil
}

// TestNotification sends a plain message to check credentials.
func (n *PushoverNotifier) TestNotification(ctx context.Context, text string) error {
	return n.send(ctx, &PushoverMessage{
		Token:   n.config.APIToken,
		User:    n.config.UserKey,
		Title:   "netavail test notification",
		Message: text,
		Sound:   n.config.Sound,
	})
}

func (n *PushoverNotifier) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"pushover_enabled":  n.config.Enabled,
		"pushover_priority": n.config.Priority,
		"throttle_enabled":  n.throttler != nil,
	}
	if n.throttler != nil {
		devices, total := n.throttler.Counts()
		stats["throttle_window"] = n.config.Throttle.Window.String()
		stats["throttle_devices"] = devices
		stats["throttle_total_recent"] = total
	}
	return stats
}

func severityEmoji(severity database.Severity) string {
	switch severity {
	case database.SeverityLow:
		return "🟡"
	case database.SeverityMedium:
		return "🟠"
	default:
		return "🔴"
	}
}
