package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSettings = errors.New("invalid settings")

const (
	DefaultDropThresholdPercent = 10
	DefaultTimeWindowMinutes    = 30
	DefaultPollIntervalSeconds  = 30

	MinDropThresholdPercent = 1
	MaxDropThresholdPercent = 50
	MinTimeWindowMinutes    = 5
	MaxTimeWindowMinutes    = 120
	MinPollIntervalSeconds  = 10
	MaxPollIntervalSeconds  = 300
)

// Settings are the operator-tunable detection parameters.
type Settings struct {
	DropThresholdPercent float64 `json:"drop_threshold_percent"`
	TimeWindowMinutes    int     `json:"time_window_minutes"`
	PollIntervalSeconds  int     `json:"poll_interval_seconds"`
}

func DefaultSettings() Settings {
	return Settings{
		DropThresholdPercent: DefaultDropThresholdPercent,
		TimeWindowMinutes:    DefaultTimeWindowMinutes,
		PollIntervalSeconds:  DefaultPollIntervalSeconds,
	}
}

func (s Settings) TimeWindow() time.Duration {
	return time.Duration(s.TimeWindowMinutes) * time.Minute
}

func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// Validate returns every out-of-range field wrapped in ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs []error
	if !thresholdOK(s.DropThresholdPercent) {
		errs = append(errs, fmt.Errorf("drop_threshold_percent must be within [%d,%d], got %v",
			MinDropThresholdPercent, MaxDropThresholdPercent, s.DropThresholdPercent))
	}
	if !windowOK(s.TimeWindowMinutes) {
		errs = append(errs, fmt.Errorf("time_window_minutes must be within [%d,%d], got %d",
			MinTimeWindowMinutes, MaxTimeWindowMinutes, s.TimeWindowMinutes))
	}
	if !intervalOK(s.PollIntervalSeconds) {
		errs = append(errs, fmt.Errorf("poll_interval_seconds must be within [%d,%d], got %d",
			MinPollIntervalSeconds, MaxPollIntervalSeconds, s.PollIntervalSeconds))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// ParseSettings decodes a stored settings blob. It never fails: a malformed
// blob yields the defaults, and each missing or out-of-range field falls back
// to its own default.
func ParseSettings(data []byte) Settings {
	s := DefaultSettings()
	if len(data) == 0 {
		return s
	}
	var raw struct {
		DropThresholdPercent *float64 `json:"drop_threshold_percent"`
		TimeWindowMinutes    *int     `json:"time_window_minutes"`
		PollIntervalSeconds  *int     `json:"poll_interval_seconds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return s
	}
	if raw.DropThresholdPercent != nil && thresholdOK(*raw.DropThresholdPercent) {
		s.DropThresholdPercent = *raw.DropThresholdPercent
	}
	if raw.TimeWindowMinutes != nil && windowOK(*raw.TimeWindowMinutes) {
		s.TimeWindowMinutes = *raw.TimeWindowMinutes
	}
	if raw.PollIntervalSeconds != nil && intervalOK(*raw.PollIntervalSeconds) {
		s.PollIntervalSeconds = *raw.PollIntervalSeconds
	}
	return s
}

func thresholdOK(v float64) bool {
	return v >= MinDropThresholdPercent && v <= MaxDropThresholdPercent
}

func windowOK(v int) bool {
	return v >= MinTimeWindowMinutes && v <= MaxTimeWindowMinutes
}

func intervalOK(v int) bool {
	return v >= MinPollIntervalSeconds && v <= MaxPollIntervalSeconds
}
