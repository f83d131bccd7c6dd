// internal/monitoring/state.go - per-device polling state
package monitoring

import (
	"sort"
	"sync"
	"time"

	"netavail/internal/database"
)

// PollingState is the scheduler's in-memory view of one device. Its mutex
// serializes every writer for the device (bulk ticks, fast-poll confirmations
// and ingested events).
type PollingState struct {
	mu sync.Mutex

	LastKnownStatus database.Status
	LastCheckTime   time.Time
	FailureCount    int

	seeded bool
}

type StateSnapshot struct {
	AccountID       string          `json:"account_id"`
	DeviceID        string          `json:"device_id"`
	LastKnownStatus database.Status `json:"last_known_status"`
	LastCheckTime   time.Time       `json:"last_check_time"`
	FailureCount    int             `json:"failure_count"`
}

type stateKey struct {
	accountID string
	deviceID  string
}

// StateTracker owns every PollingState, keyed by account and device.
type StateTracker struct {
	mu     sync.RWMutex
	states map[stateKey]*PollingState
}

func NewStateTracker() *StateTracker {
	return &StateTracker{
		states: make(map[stateKey]*PollingState),
	}
}

// get returns the state for the device, creating an empty one.
func (t *StateTracker) get(accountID, deviceID string) *PollingState {
	key := stateKey{accountID, deviceID}

	t.mu.RLock()
	state, ok := t.states[key]
	t.mu.RUnlock()
	if ok {
		return state
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok = t.states[key]; !ok {
		state = &PollingState{LastKnownStatus: database.StatusUnknown}
		t.states[key] = state
	}
	return state
}

// Snapshot returns a copy of the account's states, sorted by device.
func (t *StateTracker) Snapshot(accountID string) []StateSnapshot {
	t.mu.RLock()
	var keys []stateKey
	var states []*PollingState
	for key, state := range t.states {
		if key.accountID == accountID {
			keys = append(keys, key)
			states = append(states, state)
		}
	}
	t.mu.RUnlock()

	snapshots := make([]StateSnapshot, 0, len(keys))
	for i, state := range states {
		state.mu.Lock()
		snapshots = append(snapshots, StateSnapshot{
			AccountID:       keys[i].accountID,
			DeviceID:        keys[i].deviceID,
			LastKnownStatus: state.LastKnownStatus,
			LastCheckTime:   state.LastCheckTime,
			FailureCount:    state.FailureCount,
		})
		state.mu.Unlock()
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].DeviceID < snapshots[j].DeviceID
	})
	return snapshots
}
