// Package store persists alerts, settings and the feed cursor, and reads
// telemetry from TimescaleDB.
package store

const (
	DefaultAlertLimit = 50
	MaxAlertLimit     = 1000
)

// AlertFilter narrows an alert listing. A nil Historical lists both kinds.
type AlertFilter struct {
	Limit      int
	Historical *bool
}

func (f AlertFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultAlertLimit
	case f.Limit > MaxAlertLimit:
		return MaxAlertLimit
	}
	return f.Limit
}
