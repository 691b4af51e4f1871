package pipeline

import (
	"fleet-monitor/fueltheft/internal/domain"
)

// Detect looks for a suspicious drop ending at candidate.
//
// The peak is the highest reading in [candidate-window, candidate). On equal
// levels the earliest one wins, so the reported duration covers the whole
// plateau. A drop is reported when it reaches the threshold within the window.
func Detect(window []domain.Reading, candidate domain.Reading, s domain.Settings) (domain.DropEvent, bool) {
	start := candidate.Timestamp.Add(-s.TimeWindow())

	var (
		peak  domain.Reading
		found bool
	)
	for _, r := range window {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(candidate.Timestamp) {
			continue
		}
		if !found || r.LevelPercent > peak.LevelPercent {
			peak = r
			found = true
		}
	}
	if !found {
		return domain.DropEvent{}, false
	}

	drop := peak.LevelPercent - candidate.LevelPercent
	minutes := candidate.Timestamp.Sub(peak.Timestamp).Minutes()
	if drop < s.DropThresholdPercent || minutes > float64(s.TimeWindowMinutes) {
		return domain.DropEvent{}, false
	}

	return domain.DropEvent{
		Previous:        peak,
		Current:         candidate,
		DropPercent:     drop,
		DurationMinutes: minutes,
	}, true
}
