// internal/monitoring/flapping.go
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/database"
)

const (
	FlappingWindow    = 300 * time.Second
	FlappingThreshold = 5
)

// Severity is looked up by exact transition count; anything else is high.
var severityByTransitions = map[int]database.Severity{
	5:  database.SeverityLow,
	10: database.SeverityMedium,
	15: database.SeverityHigh,
}

type FlappingStore interface {
	GetEvents(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]database.StateChangeEvent, error)
	CreateIncidentUnlessOpen(ctx context.Context, incident *database.FlappingIncident, since time.Time) (bool, error)
}

type FlappingDetector struct {
	store FlappingStore
	clock clockwork.Clock
}

func NewFlappingDetector(store FlappingStore, clock clockwork.Clock) *FlappingDetector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FlappingDetector{store: store, clock: clock}
}

// OnEventRecorded counts transitions for the event's device over the last
// FlappingWindow and raises an incident when the threshold is reached. It
// returns the created incident, or nil when nothing was created.
func (d *FlappingDetector) OnEventRecorded(ctx context.Context, event *database.StateChangeEvent) (*database.FlappingIncident, error) {
	now := d.clock.Now()
	windowStart := now.Add(-FlappingWindow)

	events, err := d.store.GetEvents(ctx, event.AccountID, event.DeviceID, windowStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent events: %w", err)
	}
	if len(events) < FlappingThreshold {
		return nil, nil
	}

	transitions := CountTransitions(events)
	if transitions < FlappingThreshold {
		return nil, nil
	}

	incident := &database.FlappingIncident{
		AccountID:       event.AccountID,
		DeviceID:        event.DeviceID,
		TransitionCount: transitions,
		WindowSeconds:   int(FlappingWindow / time.Second),
		StartTime:       windowStart,
		EndTime:         now,
		Severity:        SeverityFor(transitions),
		CreatedAt:       now,
	}

	created, err := d.store.CreateIncidentUnlessOpen(ctx, incident, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to create flapping incident: %w", err)
	}
	if !created {
		logrus.WithFields(logrus.Fields{
			"account":     event.AccountID,
			"device":      event.DeviceID,
			"transitions": transitions,
		}).Debug("Flapping incident already open")
		return nil, nil
	}

	logrus.WithFields(logrus.Fields{
		"account":     incident.AccountID,
		"device":      incident.DeviceID,
		"transitions": transitions,
		"severity":    incident.Severity,
	}).Info("Flapping incident created")

	return incident, nil
}

// CountTransitions counts status changes between consecutive events. The
// first event is the baseline.
func CountTransitions(events []database.StateChangeEvent) int {
	transitions := 0
	for i := 1; i < len(events); i++ {
		if events[i].Status != events[i-1].Status {
			transitions++
		}
	}
	return transitions
}

func SeverityFor(transitions int) database.Severity {
	if severity, ok := severityByTransitions[transitions]; ok {
		return severity
	}
	return database.SeverityHigh
}
