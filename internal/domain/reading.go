package domain

import (
	"fmt"
	"time"
)

// DiagnosticKind names a telemetry channel the point-in-time range query understands.
type DiagnosticKind string

const (
	DiagnosticFuelLevel DiagnosticKind = "fuel_level"
	DiagnosticIgnition  DiagnosticKind = "ignition"
)

// Position is an optional fix attached to a reading by sources that have one.
type Position struct {
	Latitude  float64
	Longitude float64
}

func (p *Position) String() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.5f,%.5f", p.Latitude, p.Longitude)
}

// RawReading is a diagnostic sample as the telemetry source delivers it.
// Value is the source's fractional value (fuel level 0..1, ignition 0/1).
type RawReading struct {
	VehicleID string
	Timestamp time.Time
	Value     float64
	Position  *Position
}

// Reading is a fuel-level sample in percent. LevelPercent is not clamped.
type Reading struct {
	VehicleID    string
	Timestamp    time.Time
	LevelPercent float64
	Position     *Position
}

// FuelReading converts a raw fuel-level diagnostic to percent.
func FuelReading(r RawReading) Reading {
	return Reading{
		VehicleID:    r.VehicleID,
		Timestamp:    r.Timestamp,
		LevelPercent: r.Value * 100,
		Position:     r.Position,
	}
}

// Vehicle is a registry entry.
type Vehicle struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number"`
}

// Trip is a movement record; a vehicle moved between Start and Stop.
type Trip struct {
	VehicleID string
	Start     time.Time
	Stop      time.Time
}
