// Package models provides the JSON bodies served by the relay's ops endpoints.
package models

import "time"

// HealthStatus represents the health status of the service or a dependency.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// severity orders statuses from best to worst.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusOK:
		return 0
	case HealthStatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worst returns the more severe of s and other.
func (s HealthStatus) Worst(other HealthStatus) HealthStatus {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// WireTime normalises t for responses: UTC, whole seconds, so it marshals as
// plain RFC 3339.
func WireTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// WireTimePtr is WireTime for optional times.
func WireTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	wt := WireTime(*t)
	return &wt
}
