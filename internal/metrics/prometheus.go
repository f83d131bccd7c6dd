// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"netavail/internal/database"
)

// Prometheus metrics
var (
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netavail_polls_total",
			Help: "Polling ticks by outcome (success, error, skipped)",
		},
		[]string{"account", "result"},
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netavail_poll_duration_seconds",
			Help:    "Time spent in one polling tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account"},
	)

	StateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netavail_state_changes_total",
			Help: "Device state changes recorded in the event log",
		},
		[]string{"account", "status", "method"},
	)

	FlappingIncidents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netavail_flapping_incidents_total",
			Help: "Flapping incidents raised",
		},
		[]string{"severity"},
	)

	FastPollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netavail_fast_poll_attempts_total",
			Help: "Fast-poll attempts by outcome",
		},
		[]string{"result"},
	)

	TrackedDevices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netavail_tracked_devices",
			Help: "Devices returned by the last successful tick of an account",
		},
		[]string{"account"},
	)

	OpenIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netavail_open_incidents",
			Help: "Unacknowledged flapping incidents",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netavail_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netavail_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordPoll(account, result string, duration time.Duration) {
	PollsTotal.WithLabelValues(account, result).Inc()
	PollDuration.WithLabelValues(account).Observe(duration.Seconds())
}

func (c *Collector) RecordStateChange(account string, status database.Status, method database.DetectionMethod) {
	StateChanges.WithLabelValues(account, string(status), string(method)).Inc()
}

func (c *Collector) RecordFastPollAttempt(result string) {
	FastPollAttempts.WithLabelValues(result).Inc()
}

func (c *Collector) SetTrackedDevices(account string, count int) {
	TrackedDevices.WithLabelValues(account).Set(float64(count))
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

// OnFlappingIncident counts a newly created incident.
func (c *Collector) OnFlappingIncident(incident *database.FlappingIncident) {
	FlappingIncidents.WithLabelValues(string(incident.Severity)).Inc()
	OpenIncidents.Inc()
}

// UpdateSystemMetrics refreshes gauges that are derived from the store.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	open := false
	incidents, err := c.store.GetIncidents(ctx, database.IncidentFilters{Acknowledged: &open})
	c.RecordDatabaseOperation("get_incidents", err)
	if err != nil {
		return err
	}
	OpenIncidents.Set(float64(len(incidents)))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}
