package database

import (
	"time"
)

type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

type DetectionMethod string

const (
	DetectionPolling     DetectionMethod = "polling"
	DetectionTrap        DetectionMethod = "trap"
	DetectionFastPolling DetectionMethod = "fast_polling"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// StateChangeEvent is one immutable entry of a device's event log.
type StateChangeEvent struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	DeviceID        string          `json:"device_id"`
	Status          Status          `json:"status"`
	OccurredAt      time.Time       `json:"occurred_at"`
	DetectionMethod DetectionMethod `json:"detection_method"`
	Reason          string          `json:"reason,omitempty"`
	RetryAttempts   int             `json:"retry_attempts"`
}

type FlappingIncident struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	DeviceID        string     `json:"device_id"`
	TransitionCount int        `json:"transition_count"`
	WindowSeconds   int        `json:"window_seconds"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Severity        Severity   `json:"severity"`
	Acknowledged    bool       `json:"acknowledged"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PlannedDowntimeWindow is a maintenance window excluded from SLA accounting.
// For recurring windows only the time-of-day (plus weekday or day-of-month)
// of StartTime/EndTime is meaningful.
type PlannedDowntimeWindow struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	DeviceID  string     `json:"device_id"`
	Title     string     `json:"title"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Recurring Recurrence `json:"recurring"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type IncidentFilters struct {
	AccountID    string
	DeviceID     string
	Acknowledged *bool
	Since        *time.Time
	Limit        int
}

type DowntimeFilters struct {
	AccountID string
	DeviceID  string
}
