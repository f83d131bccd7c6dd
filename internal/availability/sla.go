package availability

import (
	"context"
	"fmt"
	"math"
	"time"
)

type AvailabilitySource interface {
	ComputeAvailability(ctx context.Context, accountID, deviceID string, windowStart, windowEnd time.Time) (*AvailabilityReport, error)
}

type ExclusionSource interface {
	ExcludedSeconds(ctx context.Context, accountID, deviceID string, windowStart, windowEnd time.Time) (int64, error)
}

type SLAResult struct {
	AccountID             string    `json:"account_id"`
	DeviceID              string    `json:"device_id"`
	WindowStart           time.Time `json:"window_start"`
	WindowEnd             time.Time `json:"window_end"`
	Target                float64   `json:"target"`
	TotalSeconds          int64     `json:"total_seconds"`
	ExcludedSeconds       int64     `json:"excluded_seconds"`
	AvailableSeconds      int64     `json:"available_seconds"`
	DowntimeSeconds       int64     `json:"downtime_seconds"`
	AchievedUptime        float64   `json:"achieved_uptime"`
	Compliant             bool      `json:"compliant"`
	BreachDurationSeconds float64   `json:"breach_duration_seconds"`
}

type SLAEvaluator struct {
	uptime     AvailabilitySource
	exclusions ExclusionSource
}

func NewSLAEvaluator(uptime AvailabilitySource, exclusions ExclusionSource) *SLAEvaluator {
	return &SLAEvaluator{uptime: uptime, exclusions: exclusions}
}

// EvaluateSLA measures downtime against the window minus planned downtime.
func (e *SLAEvaluator) EvaluateSLA(ctx context.Context, accountID, deviceID string, windowStart, windowEnd time.Time, target float64) (*SLAResult, error) {
	if !windowStart.Before(windowEnd) {
		return nil, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidRange,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}
	if math.IsNaN(target) || target < 0 || target > 100 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTarget, target)
	}

	excluded, err := e.exclusions.ExcludedSeconds(ctx, accountID, deviceID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	report, err := e.uptime.ComputeAvailability(ctx, accountID, deviceID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	result := evaluate(roundSeconds(windowEnd.Sub(windowStart)), excluded, report.DowntimeSeconds, target)
	result.AccountID = accountID
	result.DeviceID = deviceID
	result.WindowStart = windowStart
	result.WindowEnd = windowEnd
	return result, nil
}

func evaluate(totalSeconds, excludedSeconds, downSeconds int64, target float64) *SLAResult {
	available := totalSeconds - excludedSeconds

	achieved := 0.0
	if available > 0 {
		achieved = 100 * float64(available-downSeconds) / float64(available)
	}

	result := &SLAResult{
		Target:           target,
		TotalSeconds:     totalSeconds,
		ExcludedSeconds:  excludedSeconds,
		AvailableSeconds: available,
		DowntimeSeconds:  downSeconds,
		AchievedUptime:   achieved,
		Compliant:        achieved >= target,
	}

	if !result.Compliant {
		breach := (target/100)*float64(available) - (achieved/100)*float64(available)
		result.BreachDurationSeconds = math.Max(0, breach)
	}
	return result
}
