// internal/database/store_extensions.go - Extended store interface for history retention
package database

import (
	"context"
	"sort"
	"time"
)

// ExtendedStore extends the basic Store interface with maintenance operations
type ExtendedStore interface {
	Store

	// DeleteEventsBefore purges event history older than cutoff. Flapping
	// incidents and downtime windows are never touched.
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)

	CompactDatabase(ctx context.Context) error
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	TotalAccounts   int       `json:"total_accounts"`
	TotalDevices    int       `json:"total_devices"`
	TotalEvents     int       `json:"total_events"`
	TotalIncidents  int       `json:"total_incidents"`
	OpenIncidents   int       `json:"open_incidents"`
	DowntimeWindows int       `json:"downtime_windows"`
	DatabaseSize    int64     `json:"database_size_bytes"`
	OldestEvent     time.Time `json:"oldest_event"`
	NewestEvent     time.Time `json:"newest_event"`
}

// sortIncidents orders incidents newest first.
func sortIncidents(incidents []FlappingIncident) {
	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].StartTime.After(incidents[j].StartTime)
	})
}
