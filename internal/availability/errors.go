// Package availability turns a device's event log into uptime, outage,
// planned-downtime and SLA figures. Everything here is read-only and
// recomputed on demand.
package availability

import "errors"

var (
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
	ErrInvalidWindow     = errors.New("invalid downtime window")
	ErrInvalidTarget     = errors.New("sla target must be between 0 and 100")
)
