package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrOutOfOrder   = errors.New("event occurs before the latest recorded event")
	ErrInvalidEvent = errors.New("invalid event")
)

// Store defines the interface for database operations
type Store interface {
	// Event log operations
	AppendEvent(ctx context.Context, event *StateChangeEvent) error
	GetEvents(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]StateChangeEvent, error)
	GetLatestEvent(ctx context.Context, accountID, deviceID string) (*StateChangeEvent, error)

	// Flapping incident operations
	CreateIncidentUnlessOpen(ctx context.Context, incident *FlappingIncident, since time.Time) (bool, error)
	GetIncidents(ctx context.Context, filters IncidentFilters) ([]FlappingIncident, error)
	GetIncident(ctx context.Context, id string) (*FlappingIncident, error)
	AcknowledgeIncident(ctx context.Context, id, by string, at time.Time) (*FlappingIncident, error)

	// Planned downtime operations
	CreateDowntime(ctx context.Context, window *PlannedDowntimeWindow) error
	GetDowntime(ctx context.Context, id string) (*PlannedDowntimeWindow, error)
	GetDowntimes(ctx context.Context, filters DowntimeFilters) ([]PlannedDowntimeWindow, error)
	UpdateDowntime(ctx context.Context, window *PlannedDowntimeWindow) error
	DeleteDowntime(ctx context.Context, id string) error

	// Close the database connection
	Close() error
}
