package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()

	store, err := NewBoltStore(filepath.Join(t.TempDir(), "data", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func appendEvent(t *testing.T, store *BoltStore, device string, status Status, at time.Time) {
	t.Helper()

	require.NoError(t, store.AppendEvent(context.Background(), &StateChangeEvent{
		AccountID:       "acct",
		DeviceID:        device,
		Status:          status,
		OccurredAt:      at,
		DetectionMethod: DetectionPolling,
	}))
}

func TestBoltStore_EventRangeIsInclusiveAndOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	appendEvent(t, store, "sw1", StatusUp, base)
	appendEvent(t, store, "sw1", StatusDown, base.Add(time.Minute))
	appendEvent(t, store, "sw1", StatusUp, base.Add(2*time.Minute))
	appendEvent(t, store, "sw1", StatusDown, base.Add(3*time.Minute))
	appendEvent(t, store, "sw2", StatusDown, base.Add(time.Minute))

	events, err := store.GetEvents(ctx, "acct", "sw1", base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusDown, events[0].Status)
	assert.Equal(t, StatusUp, events[1].Status)
	assert.NotEmpty(t, events[0].ID)

	events, err = store.GetEvents(ctx, "acct", "missing", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBoltStore_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	appendEvent(t, store, "sw1", StatusUp, at)
	appendEvent(t, store, "sw1", StatusDown, at)

	events, err := store.GetEvents(context.Background(), "acct", "sw1", at, at)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusUp, events[0].Status)
	assert.Equal(t, StatusDown, events[1].Status)
}

func TestBoltStore_AppendRejectsOutOfOrderEvents(t *testing.T) {
	store := newTestStore(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	appendEvent(t, store, "sw1", StatusUp, at)

	err := store.AppendEvent(context.Background(), &StateChangeEvent{
		AccountID:  "acct",
		DeviceID:   "sw1",
		Status:     StatusDown,
		OccurredAt: at.Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrOutOfOrder)

	err = store.AppendEvent(context.Background(), &StateChangeEvent{
		AccountID:  "acct",
		DeviceID:   "sw1",
		Status:     StatusUnknown,
		OccurredAt: at.Add(time.Second),
	})
	assert.Error(t, err)
}

func TestBoltStore_AppendRejectsPreEpochEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, occurred := range []time.Time{{}, time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)} {
		err := store.AppendEvent(ctx, &StateChangeEvent{
			AccountID:  "acct",
			DeviceID:   "sw1",
			Status:     StatusDown,
			OccurredAt: occurred,
		})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}

	appendEvent(t, store, "sw1", StatusUp, time.Unix(0, 0))
	appendEvent(t, store, "sw1", StatusDown, at)

	events, err := store.GetEvents(ctx, "acct", "sw1", at.Add(-time.Hour), at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, StatusDown, events[0].Status)
}

func TestBoltStore_LatestEvent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := store.GetLatestEvent(ctx, "acct", "sw1")
	assert.ErrorIs(t, err, ErrNotFound)

	appendEvent(t, store, "sw1", StatusUp, base)
	appendEvent(t, store, "sw1", StatusDown, base.Add(time.Hour))

	latest, err := store.GetLatestEvent(ctx, "acct", "sw1")
	require.NoError(t, err)
	assert.Equal(t, StatusDown, latest.Status)
	assert.True(t, latest.OccurredAt.Equal(base.Add(time.Hour)))
}

func TestBoltStore_CreateIncidentUnlessOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	windowStart := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	first := &FlappingIncident{AccountID: "acct", DeviceID: "sw1", StartTime: windowStart, Severity: SeverityLow}
	created, err := store.CreateIncidentUnlessOpen(ctx, first, windowStart)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)

	second := &FlappingIncident{AccountID: "acct", DeviceID: "sw1", StartTime: windowStart.Add(time.Minute)}
	created, err = store.CreateIncidentUnlessOpen(ctx, second, windowStart)
	require.NoError(t, err)
	assert.False(t, created)

	// another device is independent
	other := &FlappingIncident{AccountID: "acct", DeviceID: "sw2", StartTime: windowStart}
	created, err = store.CreateIncidentUnlessOpen(ctx, other, windowStart)
	require.NoError(t, err)
	assert.True(t, created)

	// acknowledging reopens detection
	acked, err := store.AcknowledgeIncident(ctx, first.ID, "noc", windowStart.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "noc", acked.AcknowledgedBy)

	created, err = store.CreateIncidentUnlessOpen(ctx, second, windowStart)
	require.NoError(t, err)
	assert.True(t, created)

	open := false
	incidents, err := store.GetIncidents(ctx, IncidentFilters{AccountID: "acct", DeviceID: "sw1", Acknowledged: &open})
	require.NoError(t, err)
	require.Len(t, incidents, 1)
	assert.Equal(t, second.ID, incidents[0].ID)
}

func TestBoltStore_AcknowledgeMissingIncident(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AcknowledgeIncident(context.Background(), "nope", "noc", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_DowntimeCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)

	window := &PlannedDowntimeWindow{
		AccountID: "acct",
		DeviceID:  "sw1",
		Title:     "firmware",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		Recurring: RecurrenceNone,
	}
	require.NoError(t, store.CreateDowntime(ctx, window))
	require.NotEmpty(t, window.ID)

	windows, err := store.GetDowntimes(ctx, DowntimeFilters{AccountID: "acct", DeviceID: "sw1"})
	require.NoError(t, err)
	require.Len(t, windows, 1)

	window.Title = "firmware upgrade"
	require.NoError(t, store.UpdateDowntime(ctx, window))

	got, err := store.GetDowntime(ctx, window.ID)
	require.NoError(t, err)
	assert.Equal(t, "firmware upgrade", got.Title)

	require.NoError(t, store.DeleteDowntime(ctx, window.ID))
	_, err = store.GetDowntime(ctx, window.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteDowntime(ctx, window.ID), ErrNotFound)
}

func TestBoltStore_RetentionAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	appendEvent(t, store, "sw1", StatusUp, base)
	appendEvent(t, store, "sw1", StatusDown, base.Add(24*time.Hour))
	appendEvent(t, store, "sw2", StatusUp, base.Add(time.Hour))

	_, err := store.CreateIncidentUnlessOpen(ctx, &FlappingIncident{AccountID: "acct", DeviceID: "sw1", StartTime: base}, base)
	require.NoError(t, err)

	deleted, err := store.DeleteEventsBefore(ctx, base.Add(12*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	stats, err := store.GetDatabaseStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalAccounts)
	assert.Equal(t, 2, stats.TotalDevices)
	assert.Equal(t, 1, stats.TotalEvents)
	assert.Equal(t, 1, stats.OpenIncidents)
	assert.True(t, stats.NewestEvent.Equal(base.Add(24*time.Hour)))
}

func TestBoltStore_CompactKeepsData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	appendEvent(t, store, "sw1", StatusUp, base)
	appendEvent(t, store, "sw1", StatusDown, base.Add(time.Minute))

	require.NoError(t, store.CompactDatabase(ctx))

	events, err := store.GetEvents(ctx, "acct", "sw1", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// sequence survives, so appends at an equal timestamp stay after existing ones
	appendEvent(t, store, "sw1", StatusUp, base.Add(time.Minute))
	events, err = store.GetEvents(ctx, "acct", "sw1", base.Add(time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, StatusUp, events[1].Status)
}
