// internal/monitoring/fastpoll.go - retried single-device status checks
package monitoring

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/database"
	"netavail/internal/metrics"
)

type FastPollResult struct {
	AccountID string          `json:"account_id"`
	DeviceID  string          `json:"device_id"`
	Status    database.Status `json:"status"`
	Attempts  int             `json:"attempts"`
	Elapsed   time.Duration   `json:"elapsed"`
}

type FastPoller struct {
	clock          clockwork.Clock
	attemptTimeout time.Duration
	metrics        *metrics.Collector
}

func NewFastPoller(clock clockwork.Clock, attemptTimeout time.Duration, collector *metrics.Collector) *FastPoller {
	if attemptTimeout <= 0 {
		attemptTimeout = 10 * time.Second
	}
	return &FastPoller{clock: clock, attemptTimeout: attemptTimeout, metrics: collector}
}

// MaxFastPollRetries caps the attempts of a single fast poll.
const MaxFastPollRetries = 10

// BackoffDelay is the wait after the given attempt (counted from 1):
// baseDelay * 2^(attempt-1), saturating instead of overflowing.
func BackoffDelay(baseDelay time.Duration, attempt int) time.Duration {
	if baseDelay <= 0 {
		return 0
	}
	delay := baseDelay
	for i := 1; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			return math.MaxInt64
		}
		delay *= 2
	}
	return delay
}

// FastPoll queries one device up to maxRetries times (at most
// MaxFastPollRetries), waiting BackoffDelay between attempts, and returns
// the first status obtained. When every attempt
// fails the status is unknown. It neither reads nor writes PollingState.
// Cancelling ctx ends the retries with an unknown status and ctx's error.
func (p *FastPoller) FastPoll(ctx context.Context, account Account, deviceID string, maxRetries int, baseDelay time.Duration) (*FastPollResult, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if maxRetries > MaxFastPollRetries {
		maxRetries = MaxFastPollRetries
	}

	result := &FastPollResult{
		AccountID: account.ID,
		DeviceID:  deviceID,
		Status:    database.StatusUnknown,
	}
	start := p.clock.Now()
	log := logrus.WithFields(logrus.Fields{"account": account.ID, "device": deviceID})

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt

		status, err := p.attempt(ctx, account, deviceID)
		if err == nil {
			p.recordAttempt("success")
			result.Status = status
			result.Elapsed = p.clock.Since(start)
			return result, nil
		}
		p.recordAttempt("failure")
		log.WithError(err).WithField("attempt", attempt).Debug("Fast-poll attempt failed")

		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			result.Elapsed = p.clock.Since(start)
			return result, ctx.Err()
		case <-p.clock.After(BackoffDelay(baseDelay, attempt)):
		}
	}

	result.Elapsed = p.clock.Since(start)
	log.WithField("attempts", result.Attempts).Info("Fast-poll gave up, status unknown")
	return result, nil
}

func (p *FastPoller) attempt(ctx context.Context, account Account, deviceID string) (database.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	cred, err := account.Credentials.Credential(ctx, account.ID)
	if err != nil {
		return database.StatusUnknown, err
	}

	device, err := account.Inventory.GetDevice(ctx, cred, deviceID)
	if err != nil {
		return database.StatusUnknown, err
	}
	return statusOf(device.Connected), nil
}

func (p *FastPoller) recordAttempt(result string) {
	if p.metrics != nil {
		p.metrics.RecordFastPollAttempt(result)
	}
}
