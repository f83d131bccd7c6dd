package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"netavail/internal/database"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(nil)

	before := testutil.ToFloat64(StateChanges.WithLabelValues("acme", "down", "polling"))
	c.RecordStateChange("acme", database.StatusDown, database.DetectionPolling)
	assert.Equal(t, before+1, testutil.ToFloat64(StateChanges.WithLabelValues("acme", "down", "polling")))

	c.SetTrackedDevices("acme", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(TrackedDevices.WithLabelValues("acme")))

	before = testutil.ToFloat64(PollsTotal.WithLabelValues("acme", "skipped"))
	c.RecordPoll("acme", "skipped", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(PollsTotal.WithLabelValues("acme", "skipped")))
}

func TestCollector_OpenIncidentsFromStore(t *testing.T) {
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	start := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	for _, device := range []string{"sw1", "sw2"} {
		_, err := store.CreateIncidentUnlessOpen(ctx, &database.FlappingIncident{
			AccountID: "acme", DeviceID: device, StartTime: start, Severity: database.SeverityLow,
		}, start)
		require.NoError(t, err)
	}

	c := NewCollector(store)
	require.NoError(t, c.UpdateSystemMetrics(ctx))
	assert.Equal(t, 2.0, testutil.ToFloat64(OpenIncidents))
}
