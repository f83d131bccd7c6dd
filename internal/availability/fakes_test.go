package availability

import (
	"context"
	"fmt"
	"time"

	"netavail/internal/database"
)

type memEvents struct {
	events []database.StateChangeEvent
	err    error
}

func (m *memEvents) add(status database.Status, at time.Time, reason string) {
	m.events = append(m.events, database.StateChangeEvent{
		AccountID:  "acct",
		DeviceID:   "sw1",
		Status:     status,
		OccurredAt: at,
		Reason:     reason,
	})
}

func (m *memEvents) GetEvents(ctx context.Context, accountID, deviceID string, from, to time.Time) ([]database.StateChangeEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []database.StateChangeEvent
	for _, e := range m.events {
		if !e.OccurredAt.Before(from) && !e.OccurredAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) GetLatestEvent(ctx context.Context, accountID, deviceID string) (*database.StateChangeEvent, error) {
	if len(m.events) == 0 {
		return nil, fmt.Errorf("no events: %w", database.ErrNotFound)
	}
	latest := m.events[len(m.events)-1]
	return &latest, nil
}

type memDowntimes struct {
	windows []database.PlannedDowntimeWindow
}

func (m *memDowntimes) CreateDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error {
	window.ID = fmt.Sprintf("w%d", len(m.windows)+1)
	m.windows = append(m.windows, *window)
	return nil
}

func (m *memDowntimes) UpdateDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error {
	for i := range m.windows {
		if m.windows[i].ID == window.ID {
			m.windows[i] = *window
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *memDowntimes) GetDowntimes(ctx context.Context, filters database.DowntimeFilters) ([]database.PlannedDowntimeWindow, error) {
	return m.windows, nil
}
