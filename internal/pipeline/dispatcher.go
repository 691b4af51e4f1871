package pipeline

import (
	"context"
	"sort"

	"fleet-monitor/fueltheft/internal/domain"
)

// Batch is one vehicle's readings in ascending timestamp order.
type Batch struct {
	VehicleID string
	Readings  []domain.Reading
}

// GroupByVehicle converts raw feed readings and splits them per vehicle.
// Batches are ordered by vehicle id; each batch is sorted by timestamp, with
// equal timestamps keeping feed order.
func GroupByVehicle(raw []domain.RawReading) []Batch {
	byVehicle := make(map[string][]domain.Reading)
	for _, r := range raw {
		byVehicle[r.VehicleID] = append(byVehicle[r.VehicleID], domain.FuelReading(r))
	}

	batches := make([]Batch, 0, len(byVehicle))
	for id, readings := range byVehicle {
		sort.SliceStable(readings, func(i, j int) bool {
			return readings[i].Timestamp.Before(readings[j].Timestamp)
		})
		batches = append(batches, Batch{VehicleID: id, Readings: readings})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].VehicleID < batches[j].VehicleID })
	return batches
}

// DispatchResult summarises one dispatch.
type DispatchResult struct {
	Readings int
	Alerts   []domain.Alert
	Errors   int
}

// Dispatch runs every batch through p, one vehicle after another. A sink
// failure is counted and the remaining readings still run.
func Dispatch(ctx context.Context, p *Pipeline, batches []Batch) DispatchResult {
	var res DispatchResult
	for _, b := range batches {
		for _, r := range b.Readings {
			res.Readings++
			alert, err := p.Process(ctx, r)
			if err != nil {
				res.Errors++
				p.Logger.Error(err, "alert emit failed", "vehicle", b.VehicleID)
				continue
			}
			if alert != nil {
				res.Alerts = append(res.Alerts, *alert)
			}
		}
	}
	return res
}
