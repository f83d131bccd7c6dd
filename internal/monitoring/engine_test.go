package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"netavail/internal/availability"
	"netavail/internal/config"
	"netavail/internal/database"
	"netavail/internal/inventory"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			CleanupInterval:  time.Hour,
			HistoryRetention: 24 * time.Hour,
		},
		Polling: config.PollingConfig{
			DefaultInterval: time.Minute,
			RequestTimeout:  time.Second,
			FastPoll: config.FastPollConfig{
				MaxRetries:     3,
				BaseDelay:      time.Second,
				AttemptTimeout: time.Second,
			},
		},
		Accounts: []config.AccountConfig{
			{ID: "lab", Name: "Lab", Enabled: false, Inventory: config.InventoryConfig{Type: config.InventoryHTTP, BaseURL: "http://127.0.0.1:1"}},
		},
	}
}

func newTestEngine(t *testing.T, inv inventory.Inventory) (*Engine, *clockwork.FakeClock, *database.BoltStore) {
	t.Helper()

	store := newTestStore(t)
	clock := clockwork.NewFakeClockAt(base)
	engine, err := NewEngine(testConfig(), store, nil,
		WithClock(clock),
		WithAccount(testAccount(inv), false),
	)
	require.NoError(t, err)
	return engine, clock, store
}

func TestEngine_Accounts(t *testing.T) {
	engine, _, _ := newTestEngine(t, &mockInventory{})

	accounts := engine.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, "acme", accounts[0].ID)
	assert.Equal(t, "lab", accounts[1].ID)
	assert.Equal(t, "Lab", accounts[1].Name)
	assert.False(t, accounts[1].Running)

	_, _, err := engine.PollingStates("nope")
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.ErrorIs(t, engine.StartPolling("nope"), ErrUnknownAccount)
}

func TestEngine_ConfirmDeviceRecordsChange(t *testing.T) {
	inv := &mockInventory{}
	inv.On("GetDevice", mock.Anything, mock.Anything, "sw1").Return(&inventory.Device{ID: "sw1"}, nil)
	engine, _, store := newTestEngine(t, inv)
	ctx := context.Background()

	result, err := engine.ConfirmDevice(ctx, "acme", "sw1", 0, 0, true)
	require.NoError(t, err)
	assert.Equal(t, database.StatusDown, result.Status)
	assert.True(t, result.Recorded)

	latest, err := store.GetLatestEvent(ctx, "acme", "sw1")
	require.NoError(t, err)
	assert.Equal(t, database.DetectionFastPolling, latest.DetectionMethod)
	assert.Equal(t, 1, latest.RetryAttempts)

	// same status again is not a change
	result, err = engine.ConfirmDevice(ctx, "acme", "sw1", 0, 0, true)
	require.NoError(t, err)
	assert.False(t, result.Recorded)

	_, states, err := engine.PollingStates("acme")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, database.StatusDown, states[0].LastKnownStatus)
}

func TestEngine_ConfirmDeviceWithoutRecord(t *testing.T) {
	inv := &mockInventory{}
	inv.On("GetDevice", mock.Anything, mock.Anything, "sw1").Return(&inventory.Device{ID: "sw1", Connected: true}, nil)
	engine, _, store := newTestEngine(t, inv)

	result, err := engine.ConfirmDevice(context.Background(), "acme", "sw1", 1, time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, database.StatusUp, result.Status)
	assert.False(t, result.Recorded)

	_, err = store.GetLatestEvent(context.Background(), "acme", "sw1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestEngine_IngestEvent(t *testing.T) {
	engine, clock, store := newTestEngine(t, &mockInventory{})
	ctx := context.Background()

	_, err := engine.IngestEvent(ctx, &database.StateChangeEvent{AccountID: "nope", DeviceID: "sw1", Status: database.StatusDown})
	assert.ErrorIs(t, err, ErrUnknownAccount)

	event := &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusDown}
	_, err = engine.IngestEvent(ctx, event)
	require.NoError(t, err)
	assert.True(t, event.OccurredAt.Equal(clock.Now()))
	assert.Equal(t, database.DetectionTrap, event.DetectionMethod)

	latest, err := store.GetLatestEvent(ctx, "acme", "sw1")
	require.NoError(t, err)
	assert.Equal(t, event.ID, latest.ID)

	_, states, err := engine.PollingStates("acme")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, database.StatusDown, states[0].LastKnownStatus)

	// out of order events are rejected
	_, err = engine.IngestEvent(ctx, &database.StateChangeEvent{
		AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: base.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, database.ErrOutOfOrder)
}

func TestEngine_IngestRejectsFutureEvents(t *testing.T) {
	inv := &mockInventory{}
	inv.On("ListDevices", mock.Anything, mock.Anything).Return(devices(map[string]bool{"sw1": false}), nil)
	engine, clock, store := newTestEngine(t, inv)
	ctx := context.Background()

	_, err := engine.IngestEvent(ctx, &database.StateChangeEvent{
		AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: base.Add(12 * time.Hour),
	})
	assert.ErrorIs(t, err, availability.ErrInvalidRange)

	_, err = store.GetLatestEvent(ctx, "acme", "sw1")
	assert.ErrorIs(t, err, database.ErrNotFound)

	// polling keeps recording the device
	clock.Advance(time.Minute)
	engine.scheduler.tick(testAccount(inv))

	latest, err := store.GetLatestEvent(ctx, "acme", "sw1")
	require.NoError(t, err)
	assert.Equal(t, database.StatusDown, latest.Status)
	assert.True(t, latest.OccurredAt.Equal(clock.Now()))

	// small clock skew is tolerated
	_, err = engine.IngestEvent(ctx, &database.StateChangeEvent{
		AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: clock.Now().Add(MaxIngestSkew),
	})
	require.NoError(t, err)
}

func TestEngine_IngestedFlappingRaisesIncident(t *testing.T) {
	engine, clock, _ := newTestEngine(t, &mockInventory{})
	listener := &recordingListener{}
	engine.EventLog().AddIncidentListener(listener)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		status := database.StatusDown
		if i%2 == 1 {
			status = database.StatusUp
		}
		_, err := engine.IngestEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: status})
		require.NoError(t, err)
		clock.Advance(10 * time.Second)
	}

	require.Len(t, listener.incidents, 1)
	incident := listener.incidents[0]
	assert.Equal(t, database.SeverityLow, incident.Severity)

	acked, err := engine.AcknowledgeIncident(ctx, incident.ID, "noc")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)

	_, err = engine.AcknowledgeIncident(ctx, "missing", "noc")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestEngine_AvailabilityAndSLA(t *testing.T) {
	engine, _, store := newTestEngine(t, &mockInventory{})
	ctx := context.Background()
	day := base.Truncate(24 * time.Hour)

	require.NoError(t, store.AppendEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: day}))
	require.NoError(t, store.AppendEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusDown, OccurredAt: day.Add(2 * time.Hour)}))
	require.NoError(t, store.AppendEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: day.Add(3 * time.Hour)}))

	report, err := engine.Availability(ctx, "acme", "sw1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3600), report.DowntimeSeconds)

	require.NoError(t, engine.Downtime().CreatePlannedDowntime(ctx, &database.PlannedDowntimeWindow{
		AccountID: "acme", DeviceID: "sw1", Title: "upgrade",
		StartTime: day.Add(20 * time.Hour), EndTime: day.Add(21 * time.Hour),
	}))

	result, err := engine.EvaluateSLA(ctx, "acme", "sw1", day, day.Add(24*time.Hour), 99.9)
	require.NoError(t, err)
	assert.Equal(t, int64(3600), result.ExcludedSeconds)
	assert.Equal(t, int64(82800), result.AvailableSeconds)
	assert.False(t, result.Compliant)
	assert.Greater(t, result.BreachDurationSeconds, 0.0)
}

func TestEngine_PurgeHistory(t *testing.T) {
	engine, _, store := newTestEngine(t, &mockInventory{})
	ctx := context.Background()

	require.NoError(t, store.AppendEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusUp, OccurredAt: base.Add(-48 * time.Hour)}))
	require.NoError(t, store.AppendEvent(ctx, &database.StateChangeEvent{AccountID: "acme", DeviceID: "sw1", Status: database.StatusDown, OccurredAt: base.Add(-time.Hour)}))

	deleted, err := engine.PurgeHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = engine.PurgeBefore(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	disabled := NewRetentionManager(store, clockwork.NewFakeClockAt(base), nil, 0)
	deleted, err = disabled.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
