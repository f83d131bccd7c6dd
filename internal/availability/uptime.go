package availability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"netavail/internal/database"
)

// EventSource is the read side of the event log.
type EventSource interface {
	GetEvents(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]database.StateChangeEvent, error)
	GetLatestEvent(ctx context.Context, accountID, deviceID string) (*database.StateChangeEvent, error)
}

type Outage struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int64     `json:"duration_seconds"`
	Reason          string    `json:"reason,omitempty"`
}

// AvailabilityReport is derived from the event log and never stored.
type AvailabilityReport struct {
	AccountID        string          `json:"account_id"`
	DeviceID         string          `json:"device_id"`
	WindowStart      time.Time       `json:"window_start"`
	WindowEnd        time.Time       `json:"window_end"`
	UptimeSeconds    int64           `json:"uptime_seconds"`
	DowntimeSeconds  int64           `json:"downtime_seconds"`
	UptimePercentage float64         `json:"uptime_percentage"`
	Outages          []Outage        `json:"outages"`
	CurrentStatus    database.Status `json:"current_status"`
	LastStateChange  *time.Time      `json:"last_state_change,omitempty"`
}

type UptimeCalculator struct {
	events EventSource
}

func NewUptimeCalculator(events EventSource) *UptimeCalculator {
	return &UptimeCalculator{events: events}
}

// ComputeAvailability attributes the time from each in-window event to the
// next one (or to windowEnd) to that event's status. Time between windowStart
// and the first in-window event is not attributed to either status.
func (c *UptimeCalculator) ComputeAvailability(ctx context.Context, accountID, deviceID string, windowStart, windowEnd time.Time) (*AvailabilityReport, error) {
	if !windowStart.Before(windowEnd) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}

	report := &AvailabilityReport{
		AccountID:     accountID,
		DeviceID:      deviceID,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		Outages:       []Outage{},
		CurrentStatus: database.StatusUnknown,
	}

	events, err := c.events.GetEvents(ctx, accountID, deviceID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	if len(events) == 0 {
		return c.holdLatestStatus(ctx, report)
	}

	var up, down time.Duration
	var outageDurations []time.Duration

	for i, event := range events {
		end := windowEnd
		if i+1 < len(events) {
			end = events[i+1].OccurredAt
		}
		d := end.Sub(event.OccurredAt)

		if event.Status == database.StatusUp {
			up += d
			continue
		}

		down += d
		report.Outages = append(report.Outages, Outage{
			Start:  event.OccurredAt,
			End:    end,
			Reason: event.Reason,
		})
		outageDurations = append(outageDurations, d)
	}

	// Round once, after accumulation
	for i, d := range outageDurations {
		report.Outages[i].DurationSeconds = roundSeconds(d)
	}
	report.UptimeSeconds = roundSeconds(up)
	report.DowntimeSeconds = roundSeconds(down)
	report.UptimePercentage = percentage(up, down)

	last := events[len(events)-1]
	report.CurrentStatus = last.Status
	lastChange := last.OccurredAt
	report.LastStateChange = &lastChange

	return report, nil
}

// holdLatestStatus covers a window with no events: the device is assumed to
// have held its most recent status for the entire window.
func (c *UptimeCalculator) holdLatestStatus(ctx context.Context, report *AvailabilityReport) (*AvailabilityReport, error) {
	latest, err := c.events.GetLatestEvent(ctx, report.AccountID, report.DeviceID)
	if errors.Is(err, database.ErrNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest event: %w", err)
	}

	length := report.WindowEnd.Sub(report.WindowStart)
	switch latest.Status {
	case database.StatusUp:
		report.UptimeSeconds = roundSeconds(length)
		report.UptimePercentage = percentage(length, 0)
	case database.StatusDown:
		report.DowntimeSeconds = roundSeconds(length)
		report.Outages = append(report.Outages, Outage{
			Start:           report.WindowStart,
			End:             report.WindowEnd,
			DurationSeconds: report.DowntimeSeconds,
			Reason:          latest.Reason,
		})
	}

	report.CurrentStatus = latest.Status
	lastChange := latest.OccurredAt
	report.LastStateChange = &lastChange
	return report, nil
}

func percentage(up, down time.Duration) float64 {
	total := up + down
	if total <= 0 {
		return 0
	}
	return 100 * float64(up) / float64(total)
}

func roundSeconds(d time.Duration) int64 {
	return int64(math.Round(d.Seconds()))
}
