package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"netavail/internal/database"
	"netavail/internal/inventory"
)

func testAccount(inv inventory.Inventory) Account {
	return Account{
		ID:          "acme",
		Interval:    time.Minute,
		Inventory:   inv,
		Credentials: inventory.NoCredentials{},
	}
}

func TestScheduler_TickRecordsOnlyChanges(t *testing.T) {
	h := newHarness(t, true)
	inv := &mockInventory{}
	account := testAccount(inv)

	inv.On("ListDevices", mock.Anything, mock.Anything).Return(devices(map[string]bool{"sw1": true, "sw2": false}), nil).Twice()
	inv.On("ListDevices", mock.Anything, mock.Anything).Return(devices(map[string]bool{"sw1": false, "sw2": false}), nil).Once()

	// first observation of a device is recorded
	h.sched.tick(account)
	assert.Len(t, h.events(t, "sw1"), 1)
	assert.Len(t, h.events(t, "sw2"), 1)

	h.clock.Advance(time.Minute)
	h.sched.tick(account)
	assert.Len(t, h.events(t, "sw1"), 1)
	assert.Len(t, h.events(t, "sw2"), 1)

	h.clock.Advance(time.Minute)
	h.sched.tick(account)
	sw1 := h.events(t, "sw1")
	require.Len(t, sw1, 2)
	assert.Equal(t, database.StatusDown, sw1[1].Status)
	assert.Equal(t, database.DetectionPolling, sw1[1].DetectionMethod)
	assert.True(t, sw1[1].OccurredAt.Equal(base.Add(2*time.Minute)))
	assert.Len(t, h.events(t, "sw2"), 1)

	states := h.sched.States("acme")
	require.Len(t, states, 2)
	assert.Equal(t, "sw1", states[0].DeviceID)
	assert.Equal(t, database.StatusDown, states[0].LastKnownStatus)
	assert.True(t, states[1].LastCheckTime.Equal(base.Add(2*time.Minute)))

	inv.AssertExpectations(t)
}

func TestScheduler_TickIsolatesDeviceFailures(t *testing.T) {
	h := newHarness(t, true)
	inv := &mockInventory{}
	account := testAccount(inv)

	inv.On("ListDevices", mock.Anything, mock.Anything).Return(devices(map[string]bool{"sw1": true, "sw2": true}), nil).Once()
	inv.On("ListDevices", mock.Anything, mock.Anything).Return([]inventory.Device{
		{ID: "sw1", Err: errors.New("connectivity missing")},
		{ID: "sw2", Connected: false},
	}, nil).Once()

	h.sched.tick(account)
	h.clock.Advance(time.Minute)
	h.sched.tick(account)

	assert.Len(t, h.events(t, "sw1"), 1)
	assert.Len(t, h.events(t, "sw2"), 2)

	states := h.sched.States("acme")
	require.Len(t, states, 2)
	assert.Equal(t, database.StatusUp, states[0].LastKnownStatus)
	assert.True(t, states[0].LastCheckTime.Equal(base))
	assert.Equal(t, 1, states[0].FailureCount)
	assert.Equal(t, database.StatusDown, states[1].LastKnownStatus)
}

func TestScheduler_TickSkipsWithoutCredential(t *testing.T) {
	h := newHarness(t, true)
	inv := &mockInventory{}
	account := testAccount(inv)
	account.Credentials = failingCredentials{}

	h.sched.tick(account)

	inv.AssertNotCalled(t, "ListDevices", mock.Anything, mock.Anything)
	assert.Empty(t, h.sched.States("acme"))
}

func TestScheduler_TickSkipsWhenListFails(t *testing.T) {
	h := newHarness(t, true)
	inv := &mockInventory{}
	inv.On("ListDevices", mock.Anything, mock.Anything).Return(nil, inventory.ErrUpstreamUnavailable)

	h.sched.tick(testAccount(inv))

	assert.Empty(t, h.sched.States("acme"))
	assert.Empty(t, h.events(t, "sw1"))
}

func TestScheduler_RestoresStateFromEventLog(t *testing.T) {
	for _, tc := range []struct {
		name    string
		restore bool
		events  int
	}{
		{name: "restore", restore: true, events: 1},
		{name: "fresh", restore: false, events: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.restore)
			require.NoError(t, h.store.AppendEvent(context.Background(), &database.StateChangeEvent{
				AccountID:  "acme",
				DeviceID:   "sw1",
				Status:     database.StatusDown,
				OccurredAt: base.Add(-time.Hour),
			}))

			inv := &mockInventory{}
			inv.On("ListDevices", mock.Anything, mock.Anything).Return(devices(map[string]bool{"sw1": false}), nil)

			h.sched.tick(testAccount(inv))

			assert.Len(t, h.events(t, "sw1"), tc.events)
			states := h.sched.States("acme")
			require.Len(t, states, 1)
			assert.Equal(t, database.StatusDown, states[0].LastKnownStatus)
		})
	}
}

type countingInventory struct {
	calls atomic.Int32
}

func (c *countingInventory) ListDevices(ctx context.Context, cred inventory.Credential) ([]inventory.Device, error) {
	c.calls.Add(1)
	return []inventory.Device{{ID: "sw1", Connected: true}}, nil
}

func (c *countingInventory) GetDevice(ctx context.Context, cred inventory.Credential, id string) (*inventory.Device, error) {
	return &inventory.Device{ID: id, Connected: true}, nil
}

func TestScheduler_StartAndStopAccount(t *testing.T) {
	store := newTestStore(t)
	clock := clockwork.NewRealClock()
	eventLog := NewEventLog(store, NewFlappingDetector(store, clock))

	cron, err := gocron.NewScheduler()
	require.NoError(t, err)

	sched := NewScheduler(cron, clock, eventLog, store, nil, SchedulerOptions{RestoreState: true})
	sched.Start(context.Background())
	t.Cleanup(func() { _ = sched.Shutdown() })

	inv := &countingInventory{}
	account := Account{ID: "acme", Interval: 20 * time.Millisecond, Inventory: inv, Credentials: inventory.NoCredentials{}}

	require.NoError(t, sched.StartAccount(account))
	require.NoError(t, sched.StartAccount(account))
	assert.True(t, sched.Running("acme"))
	assert.Equal(t, []string{"acme"}, sched.RunningAccounts())

	assert.Eventually(t, func() bool { return inv.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sched.StopAccount("acme"))
	assert.False(t, sched.Running("acme"))
	require.NoError(t, sched.StopAccount("acme"))

	time.Sleep(50 * time.Millisecond)
	stopped := inv.calls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, inv.calls.Load())

	// steady status is only recorded once
	latest, err := store.GetEvents(context.Background(), "acme", "sw1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}

type blockingInventory struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingInventory) ListDevices(ctx context.Context, cred inventory.Credential) ([]inventory.Device, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return []inventory.Device{{ID: "sw1", Connected: false}}, nil
}

func (b *blockingInventory) GetDevice(ctx context.Context, cred inventory.Credential, id string) (*inventory.Device, error) {
	return &inventory.Device{ID: id}, nil
}

func TestScheduler_StopAccountLetsRunningTickFinish(t *testing.T) {
	store := newTestStore(t)
	clock := clockwork.NewRealClock()
	eventLog := NewEventLog(store, NewFlappingDetector(store, clock))

	cron, err := gocron.NewScheduler()
	require.NoError(t, err)

	sched := NewScheduler(cron, clock, eventLog, store, nil, SchedulerOptions{RestoreState: true})
	sched.Start(context.Background())
	t.Cleanup(func() { _ = sched.Shutdown() })

	inv := &blockingInventory{entered: make(chan struct{}), release: make(chan struct{})}
	account := Account{ID: "acme", Interval: 20 * time.Millisecond, Inventory: inv, Credentials: inventory.NoCredentials{}}
	require.NoError(t, sched.StartAccount(account))

	select {
	case <-inv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- sched.StopAccount("acme") }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(inv.release)
		t.Fatal("StopAccount waited for the running tick")
	}
	assert.False(t, sched.Running("acme"))

	close(inv.release)

	assert.Eventually(t, func() bool {
		latest, err := store.GetLatestEvent(context.Background(), "acme", "sw1")
		return err == nil && latest.Status == database.StatusDown
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, inv.calls.Load())
}
