package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/jinzhu/now"
	"netavail/internal/database"
)

// DowntimeStore is the storage collaborator for planned downtime windows.
type DowntimeStore interface {
	CreateDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error
	UpdateDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error
	GetDowntimes(ctx context.Context, filters database.DowntimeFilters) ([]database.PlannedDowntimeWindow, error)
}

// DowntimeCalculator stores planned downtime windows and computes how much of
// a query window they cover. Recurring windows are matched by calendar fields
// in a single fixed location.
type DowntimeCalculator struct {
	store    DowntimeStore
	location *time.Location
}

func NewDowntimeCalculator(store DowntimeStore, location *time.Location) *DowntimeCalculator {
	if location == nil {
		location = time.UTC
	}
	return &DowntimeCalculator{store: store, location: location}
}

func (c *DowntimeCalculator) Location() *time.Location {
	return c.location
}

// CreatePlannedDowntime validates and persists a window. Invalid windows are
// never written.
func (c *DowntimeCalculator) CreatePlannedDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error {
	if err := ValidateWindow(window); err != nil {
		return err
	}
	return c.store.CreateDowntime(ctx, window)
}

func (c *DowntimeCalculator) UpdatePlannedDowntime(ctx context.Context, window *database.PlannedDowntimeWindow) error {
	if err := ValidateWindow(window); err != nil {
		return err
	}
	return c.store.UpdateDowntime(ctx, window)
}

func ValidateWindow(window *database.PlannedDowntimeWindow) error {
	if window.AccountID == "" || window.DeviceID == "" {
		return fmt.Errorf("%w: account and device are required", ErrInvalidWindow)
	}
	if !window.StartTime.Before(window.EndTime) {
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
			window.StartTime.Format(time.RFC3339), window.EndTime.Format(time.RFC3339))
	}

	switch window.Recurring {
	case "":
		window.Recurring = database.RecurrenceNone
	case database.RecurrenceNone, database.RecurrenceDaily, database.RecurrenceWeekly, database.RecurrenceMonthly:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRecurrence, window.Recurring)
	}
	return nil
}

// ExcludedSeconds sums, over every window of the device, the part of
// [windowStart, windowEnd] it covers. Overlapping windows are each counted.
func (c *DowntimeCalculator) ExcludedSeconds(ctx context.Context, accountID, deviceID string, windowStart, windowEnd time.Time) (int64, error) {
	if !windowStart.Before(windowEnd) {
		return 0, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}

	windows, err := c.store.GetDowntimes(ctx, database.DowntimeFilters{AccountID: accountID, DeviceID: deviceID})
	if err != nil {
		return 0, fmt.Errorf("failed to load downtime windows: %w", err)
	}

	var excluded time.Duration
	for i := range windows {
		excluded += c.Overlap(&windows[i], windowStart, windowEnd)
	}
	return roundSeconds(excluded), nil
}

// Overlap returns how much of [from, to] the window covers.
func (c *DowntimeCalculator) Overlap(window *database.PlannedDowntimeWindow, from, to time.Time) time.Duration {
	if window.Recurring == "" || window.Recurring == database.RecurrenceNone {
		return intersect(window.StartTime, window.EndTime, from, to)
	}
	return c.recurringOverlap(window, from, to)
}

// recurringOverlap intersects each daily occurrence whose start day matches
// the recurrence with [from, to]. Days are walked from the day before from,
// so an occurrence wrapping past midnight into the query window is included.
// Equal start and end clock times make a whole-day occurrence.
func (c *DowntimeCalculator) recurringOverlap(window *database.PlannedDowntimeWindow, from, to time.Time) time.Duration {
	start := window.StartTime.In(c.location)
	end := window.EndTime.In(c.location)

	wraps := clockOf(end) <= clockOf(start)

	var total time.Duration
	last := to.In(c.location)
	for day := now.With(from.In(c.location)).BeginningOfDay().AddDate(0, 0, -1); !day.After(last); day = day.AddDate(0, 0, 1) {
		if !recurrenceMatches(window.Recurring, day, start) {
			continue
		}

		occStart := atClock(day, start)
		occEnd := atClock(day, end)
		if wraps {
			occEnd = atClock(day.AddDate(0, 0, 1), end)
		}
		total += intersect(occStart, occEnd, from, to)
	}
	return total
}

func recurrenceMatches(recurring database.Recurrence, day, template time.Time) bool {
	switch recurring {
	case database.RecurrenceDaily:
		return true
	case database.RecurrenceWeekly:
		return day.Weekday() == template.Weekday()
	case database.RecurrenceMonthly:
		return day.Day() == template.Day()
	default:
		return false
	}
}

// intersect uses the strict overlap test start1 < end2 && start2 < end1.
func intersect(start1, end1, start2, end2 time.Time) time.Duration {
	if !(start1.Before(end2) && start2.Before(end1)) {
		return 0
	}
	lo := start1
	if start2.After(lo) {
		lo = start2
	}
	hi := end1
	if end2.Before(hi) {
		hi = end2
	}
	return hi.Sub(lo)
}

// clockOf is the wall-clock time of day, comparable across dates.
func clockOf(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func atClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), day.Location())
}
