// internal/config/pushover.go - notification settings
package config

import (
	"fmt"
	"time"
)

type NotificationConfig struct {
	Pushover PushoverConfig `yaml:"pushover"`
}

// PushoverConfig holds Pushover settings for flapping incident notifications
type PushoverConfig struct {
	Enabled      bool           `yaml:"enabled"`
	APIToken     string         `yaml:"api_token"`
	UserKey      string         `yaml:"user_key"`
	APIURL       string         `yaml:"api_url,omitempty"`
	Priority     int            `yaml:"priority"` // -2 (silent) to 2 (emergency)
	Retry        int            `yaml:"retry"`    // emergency priority only (seconds)
	Expire       int            `yaml:"expire"`   // emergency priority only (seconds)
	Sound        string         `yaml:"sound,omitempty"`
	Device       string         `yaml:"device,omitempty"`
	Title        string         `yaml:"title"`
	Template     string         `yaml:"template"`
	OnlySeverity []string       `yaml:"only_severity"`
	QuietHours   *QuietHours    `yaml:"quiet_hours,omitempty"`
	Throttle     ThrottleConfig `yaml:"throttle"`
}

// QuietHours defines when notifications should be suppressed
type QuietHours struct {
	Enabled   bool   `yaml:"enabled"`
	StartHour int    `yaml:"start_hour"` // 0-23
	EndHour   int    `yaml:"end_hour"`   // 0-23
	Timezone  string `yaml:"timezone"`   // IANA name, e.g. "America/New_York"
}

type ThrottleConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Window       time.Duration `yaml:"window"`
	MaxPerDevice int           `yaml:"max_per_device"`
	MaxTotal     int           `yaml:"max_total"`
}

const PushoverAPIURL = "https://api.pushover.net/1/messages.json"

func setNotificationDefaults(cfg *NotificationConfig) {
	p := &cfg.Pushover
	if p.APIURL == "" {
		p.APIURL = PushoverAPIURL
	}
	if p.Title == "" {
		p.Title = "Flapping: {{.Account}}/{{.Device}}"
	}
	if p.Template == "" {
		p.Template = "{{.Device}} changed state {{.Transitions}} times in {{.Window}} (severity {{.Severity}})"
	}
	if p.Sound == "" {
		p.Sound = "pushover"
	}
	if p.Throttle.Window == 0 {
		p.Throttle.Window = 15 * time.Minute
	}
	if p.Throttle.MaxPerDevice == 0 {
		p.Throttle.MaxPerDevice = 3
	}
	if p.Throttle.MaxTotal == 0 {
		p.Throttle.MaxTotal = 20
	}
}

// Validate ensures the Pushover configuration is usable
func (p *PushoverConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.UserKey == "" {
		return fmt.Errorf("pushover user_key is required when enabled")
	}
	if p.APIToken == "" {
		return fmt.Errorf("pushover api_token is required when enabled")
	}
	if p.Priority < -2 || p.Priority > 2 {
		return fmt.Errorf("pushover priority must be between -2 and 2")
	}

	// Emergency priority requires retry and expire
	if p.Priority == 2 {
		if p.Retry < 30 {
			return fmt.Errorf("pushover retry must be at least 30 seconds for emergency priority")
		}
		if p.Expire < 60 || p.Expire > 10800 {
			return fmt.Errorf("pushover expire must be between 60 and 10800 seconds for emergency priority")
		}
	}

	for _, severity := range p.OnlySeverity {
		switch severity {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("pushover only_severity has unknown severity %q", severity)
		}
	}

	if p.QuietHours != nil && p.QuietHours.Enabled {
		if p.QuietHours.StartHour < 0 || p.QuietHours.StartHour > 23 {
			return fmt.Errorf("quiet hours start_hour must be between 0 and 23")
		}
		if p.QuietHours.EndHour < 0 || p.QuietHours.EndHour > 23 {
			return fmt.Errorf("quiet hours end_hour must be between 0 and 23")
		}
		if p.QuietHours.Timezone == "" {
			p.QuietHours.Timezone = "UTC"
		}
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			return fmt.Errorf("quiet hours timezone: %w", err)
		}
	}

	if p.Throttle.Enabled && p.Throttle.Window <= 0 {
		return fmt.Errorf("pushover throttle window must be positive")
	}

	return nil
}

// IsQuietTime reports whether t falls within quiet hours
func (q *QuietHours) IsQuietTime(t time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()

	// Quiet hours may span midnight
	if q.StartHour <= q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	p := &partial.Pushover
	if p.APIToken != "" {
		main.Pushover.APIToken = p.APIToken
	}
	if p.UserKey != "" {
		main.Pushover.UserKey = p.UserKey
	}
	if p.APIURL != "" {
		main.Pushover.APIURL = p.APIURL
	}
	if p.Priority != 0 {
		main.Pushover.Priority = p.Priority
	}
	if p.Retry != 0 {
		main.Pushover.Retry = p.Retry
	}
	if p.Expire != 0 {
		main.Pushover.Expire = p.Expire
	}
	if p.Sound != "" {
		main.Pushover.Sound = p.Sound
	}
	if p.Device != "" {
		main.Pushover.Device = p.Device
	}
	if p.Title != "" {
		main.Pushover.Title = p.Title
	}
	if p.Template != "" {
		main.Pushover.Template = p.Template
	}
	if len(p.OnlySeverity) > 0 {
		main.Pushover.OnlySeverity = p.OnlySeverity
	}
	if p.QuietHours != nil {
		main.Pushover.QuietHours = p.QuietHours
	}
	if p.Throttle.Enabled {
		main.Pushover.Throttle = p.Throttle
	}
	main.Pushover.Enabled = p.Enabled
}
