// internal/monitoring/retention.go - event history purge
package monitoring

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/database"
	"netavail/internal/metrics"
)

// RetentionManager deletes event history older than the configured
// retention. Flapping incidents and downtime windows are kept.
type RetentionManager struct {
	store     database.ExtendedStore
	clock     clockwork.Clock
	metrics   *metrics.Collector
	retention time.Duration
}

func NewRetentionManager(store database.ExtendedStore, clock clockwork.Clock, collector *metrics.Collector, retention time.Duration) *RetentionManager {
	return &RetentionManager{
		store:     store,
		clock:     clock,
		metrics:   collector,
		retention: retention,
	}
}

// Purge removes events older than now minus retention. A zero retention keeps
// everything.
func (m *RetentionManager) Purge(ctx context.Context) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}

	cutoff := m.clock.Now().Add(-m.retention)
	deleted, err := m.store.DeleteEventsBefore(ctx, cutoff)
	if m.metrics != nil {
		m.metrics.RecordDatabaseOperation("delete_events", err)
		if err := m.metrics.UpdateSystemMetrics(ctx); err != nil {
			logrus.WithError(err).Debug("Failed to refresh system metrics")
		}
	}
	return deleted, err
}

// Schedule runs Purge on the cron scheduler every interval, starting now.
func (m *RetentionManager) Schedule(ctx context.Context, cron gocron.Scheduler, interval time.Duration) error {
	if m.retention <= 0 {
		logrus.Debug("History retention disabled, events are kept forever")
		return nil
	}
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	_, err := cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := m.Purge(context.WithoutCancel(ctx)); err != nil {
				logrus.WithError(err).Error("Scheduled history purge failed")
			}
		}),
		gocron.WithName("retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"interval":  interval,
		"retention": m.retention,
	}).Info("Scheduled periodic history purge")
	return nil
}
