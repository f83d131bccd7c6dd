package monitoring

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"netavail/internal/database"
	"netavail/internal/inventory"
)

var base = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

type mockInventory struct {
	mock.Mock
}

func (m *mockInventory) ListDevices(ctx context.Context, cred inventory.Credential) ([]inventory.Device, error) {
	args := m.Called(ctx, cred)
	devices, _ := args.Get(0).([]inventory.Device)
	return devices, args.Error(1)
}

func (m *mockInventory) GetDevice(ctx context.Context, cred inventory.Credential, id string) (*inventory.Device, error) {
	args := m.Called(ctx, cred, id)
	device, _ := args.Get(0).(*inventory.Device)
	return device, args.Error(1)
}

type failingCredentials struct{}

func (failingCredentials) Credential(ctx context.Context, accountID string) (inventory.Credential, error) {
	return inventory.Credential{}, inventory.ErrUpstreamUnavailable
}

type recordingListener struct {
	mu        sync.Mutex
	events    []database.StateChangeEvent
	incidents []database.FlappingIncident
}

func (l *recordingListener) OnStateChange(event *database.StateChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
}

func (l *recordingListener) OnFlappingIncident(incident *database.FlappingIncident) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.incidents = append(l.incidents, *incident)
}

func newTestStore(t *testing.T) *database.BoltStore {
	t.Helper()

	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type harness struct {
	store    *database.BoltStore
	clock    *clockwork.FakeClock
	eventLog *EventLog
	sched    *Scheduler
}

func newHarness(t *testing.T, restore bool) *harness {
	t.Helper()

	store := newTestStore(t)
	clock := clockwork.NewFakeClockAt(base)
	eventLog := NewEventLog(store, NewFlappingDetector(store, clock))

	cron, err := gocron.NewScheduler(gocron.WithClock(clock))
	require.NoError(t, err)

	return &harness{
		store:    store,
		clock:    clock,
		eventLog: eventLog,
		sched:    NewScheduler(cron, clock, eventLog, store, nil, SchedulerOptions{RestoreState: restore}),
	}
}

func (h *harness) events(t *testing.T, device string) []database.StateChangeEvent {
	t.Helper()
	events, err := h.store.GetEvents(context.Background(), "acme", device, base.Add(-24*time.Hour), base.Add(24*time.Hour))
	require.NoError(t, err)
	return events
}

func devices(states map[string]bool) []inventory.Device {
	var list []inventory.Device
	for _, id := range []string{"sw1", "sw2", "sw3"} {
		if connected, ok := states[id]; ok {
			list = append(list, inventory.Device{ID: id, Connected: connected})
		}
	}
	return list
}
