package models

import "time"

// TelemetryEvent — точка телеметрии машины. Порядок определяется Timestamp,
// а не порядком доставки.
type TelemetryEvent struct {
	VehicleID string    `json:"vehicle_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedKmph float64   `json:"speed_kmph"`
	Timestamp time.Time `json:"ts"`
	FuelPct   *float64  `json:"fuel_pct,omitempty"`
	CargoTemp *float64  `json:"cargo_temp,omitempty"`
}

// NewerThan — строго новее prev (или prev отсутствует).
func (e TelemetryEvent) NewerThan(prev *TelemetryEvent) bool {
	return prev == nil || e.Timestamp.After(prev.Timestamp)
}
