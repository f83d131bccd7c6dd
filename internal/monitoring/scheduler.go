// internal/monitoring/scheduler.go - per-account polling on gocron
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/database"
	"netavail/internal/inventory"
	"netavail/internal/metrics"
)

const DefaultPollInterval = 300 * time.Second

var ErrUnknownAccount = errors.New("unknown account")

// Account is one independently polled inventory partition.
type Account struct {
	ID          string
	Interval    time.Duration
	Inventory   inventory.Inventory
	Credentials inventory.CredentialSource
}

type LatestEventSource interface {
	GetLatestEvent(ctx context.Context, accountID, deviceID string) (*database.StateChangeEvent, error)
}

type SchedulerOptions struct {
	// RequestTimeout bounds one tick's inventory calls.
	RequestTimeout time.Duration
	// RestoreState seeds missing PollingState from the latest stored event.
	RestoreState bool
}

type Scheduler struct {
	cron     gocron.Scheduler
	clock    clockwork.Clock
	eventLog *EventLog
	latest   LatestEventSource
	metrics  *metrics.Collector
	opts     SchedulerOptions
	tracker  *StateTracker

	mu       sync.Mutex
	baseCtx  context.Context
	accounts map[string]*scheduledAccount
}

type scheduledAccount struct {
	account Account
	jobID   uuid.UUID
}

func NewScheduler(cron gocron.Scheduler, clock clockwork.Clock, eventLog *EventLog, latest LatestEventSource, collector *metrics.Collector, opts SchedulerOptions) *Scheduler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:     cron,
		clock:    clock,
		eventLog: eventLog,
		latest:   latest,
		metrics:  collector,
		opts:     opts,
		tracker:  NewStateTracker(),
		baseCtx:  context.Background(),
		accounts: make(map[string]*scheduledAccount),
	}
}

// Start begins running scheduled jobs. Ticks derive their context from ctx
// without inheriting its cancellation, so shutdown never aborts a tick that
// is already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	logrus.Info("Starting polling scheduler")
	s.cron.Start()
}

func (s *Scheduler) Shutdown() error {
	logrus.Info("Stopping polling scheduler")
	return s.cron.Shutdown()
}

// StartAccount schedules the account's tick every Interval, running the first
// tick immediately. Starting a running account is a no-op.
func (s *Scheduler) StartAccount(account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.accounts[account.ID]; running {
		return nil
	}
	if account.Interval <= 0 {
		account.Interval = DefaultPollInterval
	}

	job, err := s.cron.NewJob(
		gocron.DurationJob(account.Interval),
		gocron.NewTask(func() { s.tick(account) }),
		gocron.WithName("poll:"+account.ID),
		gocron.WithTags(account.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule account %s: %w", account.ID, err)
	}

	s.accounts[account.ID] = &scheduledAccount{account: account, jobID: job.ID()}

	logrus.WithFields(logrus.Fields{
		"account":  account.ID,
		"interval": account.Interval,
	}).Info("Started polling account")
	return nil
}

// StopAccount prevents further ticks. A tick already in flight completes and
// its events are written normally.
func (s *Scheduler) StopAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scheduled, running := s.accounts[accountID]
	if !running {
		return nil
	}
	if err := s.cron.RemoveJob(scheduled.jobID); err != nil {
		return fmt.Errorf("failed to stop account %s: %w", accountID, err)
	}
	delete(s.accounts, accountID)

	logrus.WithField("account", accountID).Info("Stopped polling account")
	return nil
}

func (s *Scheduler) Running(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.accounts[accountID]
	return running
}

func (s *Scheduler) RunningAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) States(accountID string) []StateSnapshot {
	return s.tracker.Snapshot(accountID)
}

func (s *Scheduler) tickContext() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	return context.WithTimeout(context.WithoutCancel(base), s.opts.RequestTimeout)
}

// tick polls every device of the account once. Failures never escape: a tick
// without a valid credential or device list is skipped, and a failing device
// is skipped on its own.
func (s *Scheduler) tick(account Account) {
	ctx, cancel := s.tickContext()
	defer cancel()

	start := s.clock.Now()
	log := logrus.WithField("account", account.ID)

	cred, err := account.Credentials.Credential(ctx, account.ID)
	if err != nil {
		log.WithError(err).Warn("Skipping polling tick without a valid credential")
		s.recordPoll(account.ID, "skipped", start)
		return
	}

	devices, err := account.Inventory.ListDevices(ctx, cred)
	if err != nil {
		log.WithError(err).Warn("Skipping polling tick, device list unavailable")
		s.recordPoll(account.ID, "error", start)
		return
	}

	recorded := 0
	for _, device := range devices {
		if device.Err != nil {
			log.WithError(device.Err).WithField("device", device.ID).Warn("Device query failed")
			s.recordFailure(account.ID, device.ID)
			continue
		}

		appended, err := s.observe(ctx, account.ID, device.ID, statusOf(device.Connected), database.DetectionPolling, "", 0)
		if err != nil {
			log.WithError(err).WithField("device", device.ID).Warn("Failed to record state change")
			continue
		}
		if appended {
			recorded++
		}
	}

	if s.metrics != nil {
		s.metrics.SetTrackedDevices(account.ID, len(devices))
	}
	s.recordPoll(account.ID, "success", start)

	log.WithFields(logrus.Fields{
		"devices":  len(devices),
		"recorded": recorded,
		"duration": s.clock.Since(start),
	}).Debug("Polling tick completed")
}

func (s *Scheduler) recordPoll(accountID, result string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPoll(accountID, result, s.clock.Since(start))
	}
}

func (s *Scheduler) recordFailure(accountID, deviceID string) {
	state := s.tracker.get(accountID, deviceID)
	state.mu.Lock()
	state.FailureCount++
	state.mu.Unlock()
}

// observe compares status with the device's PollingState and appends a
// state-change event on mismatch, reporting whether one was appended. The
// first observation of a device without prior state is recorded but is not
// counted as a change.
func (s *Scheduler) observe(ctx context.Context, accountID, deviceID string, status database.Status, method database.DetectionMethod, reason string, retries int) (bool, error) {
	state := s.tracker.get(accountID, deviceID)
	state.mu.Lock()
	defer state.mu.Unlock()

	s.seed(ctx, state, accountID, deviceID)

	now := s.clock.Now()
	if state.LastKnownStatus == status {
		state.LastCheckTime = now
		state.FailureCount = 0
		return false, nil
	}

	event := &database.StateChangeEvent{
		AccountID:       accountID,
		DeviceID:        deviceID,
		Status:          status,
		OccurredAt:      now,
		DetectionMethod: method,
		Reason:          reason,
		RetryAttempts:   retries,
	}
	if _, err := s.eventLog.Append(ctx, event); err != nil {
		return false, err
	}

	first := state.LastKnownStatus == database.StatusUnknown
	state.LastKnownStatus = status
	state.LastCheckTime = now
	state.FailureCount = 0

	if !first && s.metrics != nil {
		s.metrics.RecordStateChange(accountID, status, method)
	}
	return true, nil
}

// record appends an externally observed event (trap or manual entry) and
// moves the device's PollingState to it, under the same per-device lock as
// polling.
func (s *Scheduler) record(ctx context.Context, event *database.StateChangeEvent) (*database.FlappingIncident, error) {
	state := s.tracker.get(event.AccountID, event.DeviceID)
	state.mu.Lock()
	defer state.mu.Unlock()

	s.seed(ctx, state, event.AccountID, event.DeviceID)

	incident, err := s.eventLog.Append(ctx, event)
	if err != nil {
		return nil, err
	}

	if state.LastKnownStatus != database.StatusUnknown && s.metrics != nil {
		s.metrics.RecordStateChange(event.AccountID, event.Status, event.DetectionMethod)
	}
	state.LastKnownStatus = event.Status
	state.LastCheckTime = event.OccurredAt
	return incident, nil
}

// seed restores a device's last known status from the event log once. The
// caller holds state.mu.
func (s *Scheduler) seed(ctx context.Context, state *PollingState, accountID, deviceID string) {
	if state.seeded {
		return
	}
	if !s.opts.RestoreState || s.latest == nil {
		state.seeded = true
		return
	}

	latest, err := s.latest.GetLatestEvent(ctx, accountID, deviceID)
	switch {
	case err == nil:
		state.LastKnownStatus = latest.Status
		state.LastCheckTime = latest.OccurredAt
		state.seeded = true
	case errors.Is(err, database.ErrNotFound):
		state.seeded = true
	default:
		// retried on the next observation
		logrus.WithError(err).WithFields(logrus.Fields{
			"account": accountID,
			"device":  deviceID,
		}).Warn("Failed to restore polling state")
	}
}

func statusOf(connected bool) database.Status {
	if connected {
		return database.StatusUp
	}
	return database.StatusDown
}
