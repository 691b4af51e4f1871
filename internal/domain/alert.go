package domain

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// SeverityRule assigns Severity when Matches holds. Rules are evaluated in
// slice order and the first match wins.
type SeverityRule struct {
	Severity Severity
	Matches  func(dropPercent, durationMinutes float64) bool
}

// DefaultSeverityRules is the fixed tier table. The bands do not move with
// the configured drop threshold. The last rule always matches.
var DefaultSeverityRules = []SeverityRule{
	{
		Severity: SeverityCritical,
		Matches: func(drop, minutes float64) bool {
			return drop > 25 && minutes < 10
		},
	},
	{
		Severity: SeverityHigh,
		Matches: func(drop, minutes float64) bool {
			return drop > 15 && minutes < 20
		},
	},
	{
		Severity: SeverityMedium,
		Matches: func(float64, float64) bool {
			return true
		},
	},
}

// DropEvent is a detected fall in fuel level. It is never persisted.
type DropEvent struct {
	Previous        Reading
	Current         Reading
	DropPercent     float64
	DurationMinutes float64
}

// Alert is handed to the AlertSink once accepted. ID is zero until the
// persistence layer assigns it.
type Alert struct {
	ID              int64     `json:"id"`
	VehicleID       string    `json:"vehicle_id"`
	VehicleName     string    `json:"vehicle_name"`
	Severity        Severity  `json:"severity"`
	FuelDropPercent float64   `json:"fuel_drop_percent"`
	PreviousLevel   float64   `json:"previous_level"`
	CurrentLevel    float64   `json:"current_level"`
	DurationMinutes float64   `json:"duration_minutes"`
	Timestamp       time.Time `json:"timestamp"`
	Location        string    `json:"location"`
	Historical      bool      `json:"historical"`
}

// NewAlert builds the alert for ev. at is "now" for live alerts and the
// drop's own timestamp for historical ones.
func NewAlert(v Vehicle, ev DropEvent, sev Severity, at time.Time, historical bool) Alert {
	name := v.Name
	if name == "" {
		name = ev.Current.VehicleID
	}
	location := ev.Current.Position.String()
	if location == "" {
		location = "unknown"
	}
	return Alert{
		VehicleID:       ev.Current.VehicleID,
		VehicleName:     name,
		Severity:        sev,
		FuelDropPercent: ev.DropPercent,
		PreviousLevel:   ev.Previous.LevelPercent,
		CurrentLevel:    ev.Current.LevelPercent,
		DurationMinutes: ev.DurationMinutes,
		Timestamp:       at,
		Location:        location,
		Historical:      historical,
	}
}
