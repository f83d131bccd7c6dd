package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"netavail/internal/database"
)

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

func TestComputeAvailability_ExhaustiveWindowSumsToLength(t *testing.T) {
	events := &memEvents{}
	events.add(database.StatusUp, t0, "")
	events.add(database.StatusDown, t0.Add(10*time.Minute), "link lost")
	events.add(database.StatusUp, t0.Add(25*time.Minute), "")

	calc := NewUptimeCalculator(events)
	report, err := calc.ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(2700), report.UptimeSeconds)
	assert.Equal(t, int64(900), report.DowntimeSeconds)
	assert.Equal(t, int64(3600), report.UptimeSeconds+report.DowntimeSeconds)
	assert.InDelta(t, 75.0, report.UptimePercentage, 1e-9)
	assert.Equal(t, database.StatusUp, report.CurrentStatus)
	require.NotNil(t, report.LastStateChange)
	assert.True(t, report.LastStateChange.Equal(t0.Add(25*time.Minute)))

	require.Len(t, report.Outages, 1)
	assert.True(t, report.Outages[0].Start.Equal(t0.Add(10*time.Minute)))
	assert.True(t, report.Outages[0].End.Equal(t0.Add(25*time.Minute)))
	assert.Equal(t, int64(900), report.Outages[0].DurationSeconds)
	assert.Equal(t, "link lost", report.Outages[0].Reason)
}

func TestComputeAvailability_LeadingGapIsNotAttributed(t *testing.T) {
	events := &memEvents{}
	events.add(database.StatusDown, t0.Add(5*time.Minute), "")
	events.add(database.StatusUp, t0.Add(20*time.Minute), "")

	calc := NewUptimeCalculator(events)
	report, err := calc.ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(900), report.DowntimeSeconds)
	assert.Equal(t, int64(2400), report.UptimeSeconds)
	// the 300s before the first event is simply missing from the total
	assert.Equal(t, int64(3600-300), report.UptimeSeconds+report.DowntimeSeconds)
}

func TestComputeAvailability_LastDownEventRunsToWindowEnd(t *testing.T) {
	events := &memEvents{}
	events.add(database.StatusUp, t0, "")
	events.add(database.StatusDown, t0.Add(50*time.Minute), "power")

	report, err := NewUptimeCalculator(events).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, report.Outages, 1)
	assert.True(t, report.Outages[0].End.Equal(t0.Add(time.Hour)))
	assert.Equal(t, int64(600), report.Outages[0].DurationSeconds)
	assert.Equal(t, database.StatusDown, report.CurrentStatus)
}

func TestComputeAvailability_RoundsAfterAccumulation(t *testing.T) {
	events := &memEvents{}
	events.add(database.StatusUp, t0, "")
	events.add(database.StatusDown, t0.Add(400*time.Millisecond), "")
	events.add(database.StatusUp, t0.Add(800*time.Millisecond), "")

	report, err := NewUptimeCalculator(events).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(1200*time.Millisecond))
	require.NoError(t, err)

	// 0.4s + 0.4s of uptime rounds to 1, not 0+0
	assert.Equal(t, int64(1), report.UptimeSeconds)
	assert.Equal(t, int64(0), report.DowntimeSeconds)
}

func TestComputeAvailability_EmptyWindowHoldsLatestStatus(t *testing.T) {
	events := &memEvents{}
	events.add(database.StatusUp, t0.Add(-48*time.Hour), "")
	events.add(database.StatusDown, t0.Add(-24*time.Hour), "decommissioned")

	report, err := NewUptimeCalculator(events).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.UptimeSeconds)
	assert.Equal(t, int64(3600), report.DowntimeSeconds)
	assert.Equal(t, 0.0, report.UptimePercentage)
	assert.Equal(t, database.StatusDown, report.CurrentStatus)
	require.Len(t, report.Outages, 1)
	assert.Equal(t, "decommissioned", report.Outages[0].Reason)

	events.add(database.StatusUp, t0.Add(-time.Hour), "")
	report, err = NewUptimeCalculator(events).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3600), report.UptimeSeconds)
	assert.Equal(t, 100.0, report.UptimePercentage)
	assert.Empty(t, report.Outages)
}

func TestComputeAvailability_NoHistoryIsUnknown(t *testing.T) {
	report, err := NewUptimeCalculator(&memEvents{}).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, database.StatusUnknown, report.CurrentStatus)
	assert.Zero(t, report.UptimeSeconds)
	assert.Zero(t, report.DowntimeSeconds)
	assert.Zero(t, report.UptimePercentage)
	assert.Nil(t, report.LastStateChange)
}

func TestComputeAvailability_InvalidRange(t *testing.T) {
	calc := NewUptimeCalculator(&memEvents{})

	_, err := calc.ComputeAvailability(context.Background(), "acct", "sw1", t0, t0)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = calc.ComputeAvailability(context.Background(), "acct", "sw1", t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestComputeAvailability_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := NewUptimeCalculator(&memEvents{err: boom}).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	assert.ErrorIs(t, err, boom)
}

func TestComputeAvailability_PercentageBounds(t *testing.T) {
	events := &memEvents{}
	statuses := []database.Status{database.StatusDown, database.StatusUp}
	for i := 0; i < 40; i++ {
		events.add(statuses[i%2], t0.Add(time.Duration(i*i)*time.Second), "")
	}

	report, err := NewUptimeCalculator(events).ComputeAvailability(context.Background(), "acct", "sw1", t0, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.UptimePercentage, 0.0)
	assert.LessOrEqual(t, report.UptimePercentage, 100.0)
	assert.Equal(t, int64(3600), report.UptimeSeconds+report.DowntimeSeconds)
}
