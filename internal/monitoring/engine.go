// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"netavail/internal/availability"
	"netavail/internal/config"
	"netavail/internal/database"
	"netavail/internal/inventory"
	"netavail/internal/metrics"
	"netavail/internal/notifications"
)

// Engine wires the event log, detector, scheduler and calculators together
// and owns their lifecycle.
type Engine struct {
	config  *config.Config
	store   database.ExtendedStore
	metrics *metrics.Collector
	clock   clockwork.Clock
	cron    gocron.Scheduler

	eventLog   *EventLog
	detector   *FlappingDetector
	scheduler  *Scheduler
	fastPoller *FastPoller
	retention  *RetentionManager
	notifier   *notifications.PushoverNotifier

	uptime   *availability.UptimeCalculator
	downtime *availability.DowntimeCalculator
	sla      *availability.SLAEvaluator

	accounts map[string]accountEntry

	mu      sync.RWMutex
	running bool
}

type accountEntry struct {
	Account
	Name    string
	Enabled bool
}

type AccountSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
}

type ConfirmResult struct {
	FastPollResult
	Recorded bool `json:"recorded"`
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithAccount registers an account directly, replacing any configured
// account with the same ID.
func WithAccount(account Account, enabled bool) Option {
	return func(e *Engine) {
		e.accounts[account.ID] = accountEntry{Account: account, Name: account.ID, Enabled: enabled}
	}
}

func NewEngine(cfg *config.Config, store database.ExtendedStore, collector *metrics.Collector, opts ...Option) (*Engine, error) {
	engine := &Engine{
		config:   cfg,
		store:    store,
		metrics:  collector,
		clock:    clockwork.NewRealClock(),
		accounts: make(map[string]accountEntry),
	}

	for _, opt := range opts {
		opt(engine)
	}
	engine.loadAccounts()

	location, err := cfg.Availability.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid availability timezone: %w", err)
	}

	cron, err := gocron.NewScheduler(
		gocron.WithClock(engine.clock),
		gocron.WithLogger(newCronLogger()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	engine.cron = cron

	engine.detector = NewFlappingDetector(store, engine.clock)
	engine.eventLog = NewEventLog(store, engine.detector)
	engine.scheduler = NewScheduler(cron, engine.clock, engine.eventLog, store, collector, SchedulerOptions{
		RequestTimeout: cfg.Polling.RequestTimeout,
		RestoreState:   cfg.Polling.ShouldRestoreState(),
	})
	engine.fastPoller = NewFastPoller(engine.clock, cfg.Polling.FastPoll.AttemptTimeout, collector)
	engine.retention = NewRetentionManager(store, engine.clock, collector, cfg.Database.HistoryRetention)

	engine.uptime = availability.NewUptimeCalculator(store)
	engine.downtime = availability.NewDowntimeCalculator(store, location)
	engine.sla = availability.NewSLAEvaluator(engine.uptime, engine.downtime)

	if collector != nil {
		engine.eventLog.AddIncidentListener(collector)
	}

	if cfg.Notifications.Pushover.Enabled {
		notifier, err := notifications.NewPushoverNotifier(&cfg.Notifications.Pushover, engine.clock)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize notifications: %w", err)
		}
		engine.notifier = notifier
		engine.eventLog.AddIncidentListener(notifier)
	}

	return engine, nil
}

// loadAccounts builds an inventory client for each configured account not
// already registered through WithAccount.
func (e *Engine) loadAccounts() {
	credentials := inventory.NewStaticCredentials(e.clock)

	for _, accountCfg := range e.config.Accounts {
		if _, ok := e.accounts[accountCfg.ID]; ok {
			continue
		}
		account := Account{ID: accountCfg.ID, Interval: accountCfg.Interval}
		inv := accountCfg.Inventory

		switch inv.Type {
		case config.InventoryICMP:
			devices := make([]inventory.Device, 0, len(inv.Devices))
			for _, d := range inv.Devices {
				devices = append(devices, inventory.Device{ID: d.ID, Name: d.Name, Address: d.Address})
			}
			account.Inventory = inventory.NewICMPClient(devices, inventory.ICMPOptions{
				Count:      inv.PingCount,
				Timeout:    inv.PingTimeout,
				Privileged: inv.Privileged,
			})
			account.Credentials = inventory.NoCredentials{}
		default:
			account.Inventory = inventory.NewHTTPClient(inv.BaseURL, e.config.Polling.RequestTimeout)
			credentials.Set(accountCfg.ID, inventory.Credential{Token: inv.Token, ExpiresAt: inv.TokenExpiresAt})
			account.Credentials = credentials
		}

		e.accounts[account.ID] = accountEntry{Account: account, Name: accountCfg.Name, Enabled: accountCfg.Enabled}
	}
}

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	logrus.WithField("accounts", len(e.accounts)).Info("Starting monitoring engine")

	if err := e.retention.Schedule(ctx, e.cron, e.config.Database.CleanupInterval); err != nil {
		return fmt.Errorf("failed to schedule history purge: %w", err)
	}

	for _, entry := range e.accounts {
		if !entry.Enabled {
			continue
		}
		if err := e.scheduler.StartAccount(entry.Account); err != nil {
			// one bad account must not stop the others
			logrus.WithError(err).WithField("account", entry.ID).Error("Failed to start polling")
		}
	}

	if e.metrics != nil {
		if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to initialize system metrics")
		}
	}

	e.scheduler.Start(ctx)
	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	logrus.Info("Stopping monitoring engine")
	if err := e.scheduler.Shutdown(); err != nil {
		logrus.WithError(err).Warn("Scheduler shutdown reported an error")
	}
	if e.notifier != nil {
		e.notifier.Wait()
	}
	e.running = false
}

func (e *Engine) account(accountID string) (accountEntry, error) {
	entry, ok := e.accounts[accountID]
	if !ok {
		return accountEntry{}, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return entry, nil
}

func (e *Engine) Accounts() []AccountSummary {
	summaries := make([]AccountSummary, 0, len(e.accounts))
	for _, entry := range e.accounts {
		summaries = append(summaries, AccountSummary{
			ID:       entry.ID,
			Name:     entry.Name,
			Enabled:  entry.Enabled,
			Running:  e.scheduler.Running(entry.ID),
			Interval: entry.Interval,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (e *Engine) StartPolling(accountID string) error {
	entry, err := e.account(accountID)
	if err != nil {
		return err
	}
	return e.scheduler.StartAccount(entry.Account)
}

func (e *Engine) StopPolling(accountID string) error {
	if _, err := e.account(accountID); err != nil {
		return err
	}
	return e.scheduler.StopAccount(accountID)
}

func (e *Engine) PollingStates(accountID string) (bool, []StateSnapshot, error) {
	if _, err := e.account(accountID); err != nil {
		return false, nil, err
	}
	return e.scheduler.Running(accountID), e.scheduler.States(accountID), nil
}

// MaxIngestSkew is how far ahead of the local clock an ingested event may be.
const MaxIngestSkew = 5 * time.Second

// ConfirmDevice fast-polls a device. With record set, a known status that
// differs from the device's PollingState is appended as a fast_polling event.
// Zero retries or delay fall back to the configured defaults.
func (e *Engine) ConfirmDevice(ctx context.Context, accountID, deviceID string, maxRetries int, baseDelay time.Duration, record bool) (*ConfirmResult, error) {
	entry, err := e.account(accountID)
	if err != nil {
		return nil, err
	}
	if maxRetries <= 0 {
		maxRetries = e.config.Polling.FastPoll.MaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = e.config.Polling.FastPoll.BaseDelay
	}

	polled, err := e.fastPoller.FastPoll(ctx, entry.Account, deviceID, maxRetries, baseDelay)
	if err != nil {
		return nil, err
	}

	result := &ConfirmResult{FastPollResult: *polled}
	if !record || polled.Status == database.StatusUnknown {
		return result, nil
	}

	result.Recorded, err = e.scheduler.observe(ctx, accountID, deviceID, polled.Status,
		database.DetectionFastPolling, "fast-poll confirmation", polled.Attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to record fast-poll result: %w", err)
	}
	return result, nil
}

// IngestEvent records an externally detected state change, such as a trap.
// An event stamped more than MaxIngestSkew after now is rejected: polls are
// stamped with now and must never sort before an ingested event.
func (e *Engine) IngestEvent(ctx context.Context, event *database.StateChangeEvent) (*database.FlappingIncident, error) {
	if _, err := e.account(event.AccountID); err != nil {
		return nil, err
	}
	now := e.clock.Now()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	if event.OccurredAt.After(now.Add(MaxIngestSkew)) {
		return nil, fmt.Errorf("%w: occurred_at %s is in the future", availability.ErrInvalidRange,
			event.OccurredAt.Format(time.RFC3339))
	}
	if event.DetectionMethod == "" {
		event.DetectionMethod = database.DetectionTrap
	}

	incident, err := e.scheduler.record(ctx, event)
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation("append_event", err)
	}
	return incident, err
}

func (e *Engine) Availability(ctx context.Context, accountID, deviceID string, start, end time.Time) (*availability.AvailabilityReport, error) {
	return e.uptime.ComputeAvailability(ctx, accountID, deviceID, start, end)
}

func (e *Engine) EvaluateSLA(ctx context.Context, accountID, deviceID string, start, end time.Time, target float64) (*availability.SLAResult, error) {
	return e.sla.EvaluateSLA(ctx, accountID, deviceID, start, end, target)
}

func (e *Engine) AcknowledgeIncident(ctx context.Context, id, by string) (*database.FlappingIncident, error) {
	incident, err := e.store.AcknowledgeIncident(ctx, id, by, e.clock.Now())
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation("acknowledge_incident", err)
		if err == nil {
			if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
				logrus.WithError(err).Debug("Failed to refresh system metrics")
			}
		}
	}
	return incident, err
}

// PurgeHistory runs the retention purge now.
func (e *Engine) PurgeHistory(ctx context.Context) (int, error) {
	return e.retention.Purge(ctx)
}

// PurgeBefore deletes events older than cutoff regardless of retention.
func (e *Engine) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := e.store.DeleteEventsBefore(ctx, cutoff)
	if e.metrics != nil {
		e.metrics.RecordDatabaseOperation("delete_events", err)
	}
	return deleted, err
}

func (e *Engine) Downtime() *availability.DowntimeCalculator { return e.downtime }

func (e *Engine) EventLog() *EventLog { return e.eventLog }

func (e *Engine) Store() database.ExtendedStore { return e.store }

func (e *Engine) Clock() clockwork.Clock { return e.clock }

func (e *Engine) Config() *config.Config { return e.config }

func (e *Engine) Notifier() *notifications.PushoverNotifier { return e.notifier }
