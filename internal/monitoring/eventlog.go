// internal/monitoring/eventlog.go - append-only device event log with
// post-commit hooks
package monitoring

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"netavail/internal/database"
)

// EventListener is notified after an event has been stored.
type EventListener interface {
	OnStateChange(event *database.StateChangeEvent)
}

// IncidentListener is notified when the detector creates a flapping incident.
type IncidentListener interface {
	OnFlappingIncident(incident *database.FlappingIncident)
}

type EventLog struct {
	store    database.Store
	detector *FlappingDetector

	mu                sync.RWMutex
	eventListeners    []EventListener
	incidentListeners []IncidentListener
}

func NewEventLog(store database.Store, detector *FlappingDetector) *EventLog {
	return &EventLog{store: store, detector: detector}
}

func (l *EventLog) AddEventListener(listener EventListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eventListeners = append(l.eventListeners, listener)
}

func (l *EventLog) AddIncidentListener(listener IncidentListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.incidentListeners = append(l.incidentListeners, listener)
}

// Append stores the event and runs the flapping detector before returning,
// so the detector always sees the event it was called for. Detector failures
// are logged; the append itself has already succeeded.
func (l *EventLog) Append(ctx context.Context, event *database.StateChangeEvent) (*database.FlappingIncident, error) {
	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}

	var incident *database.FlappingIncident
	if l.detector != nil {
		var err error
		incident, err = l.detector.OnEventRecorded(ctx, event)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"account": event.AccountID,
				"device":  event.DeviceID,
			}).Warn("Flapping detection failed")
		}
	}

	l.mu.RLock()
	eventListeners := l.eventListeners
	incidentListeners := l.incidentListeners
	l.mu.RUnlock()

	for _, listener := range eventListeners {
		listener.OnStateChange(event)
	}
	if incident != nil {
		for _, listener := range incidentListeners {
			listener.OnFlappingIncident(incident)
		}
	}

	return incident, nil
}
