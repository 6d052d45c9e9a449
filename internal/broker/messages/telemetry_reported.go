package messages

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

// TelemetryReported — сообщение телеметрии в Kafka (топик vehicle.telemetry)
// и в Redis pub/sub (канал telemetry:<vehicle_id>).
type TelemetryReported struct {
	VehicleID string    `json:"vehicle_id"`
	TS        time.Time `json:"ts"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedKmph float64   `json:"speed_kmph"`
	FuelPct   *float64  `json:"fuel_pct,omitempty"`
	CargoTemp *float64  `json:"cargo_temp,omitempty"`
}

func FromEvent(e models.TelemetryEvent) TelemetryReported {
	return TelemetryReported{
		VehicleID: e.VehicleID,
		TS:        e.Timestamp.UTC(),
		Lat:       e.Lat,
		Lon:       e.Lon,
		SpeedKmph: e.SpeedKmph,
		FuelPct:   e.FuelPct,
		CargoTemp: e.CargoTemp,
	}
}

func (m TelemetryReported) Event() models.TelemetryEvent {
	return models.TelemetryEvent{
		VehicleID: m.VehicleID,
		Lat:       m.Lat,
		Lon:       m.Lon,
		SpeedKmph: m.SpeedKmph,
		Timestamp: m.TS,
		FuelPct:   m.FuelPct,
		CargoTemp: m.CargoTemp,
	}
}

// DecodeTelemetry разбирает сообщение; без vehicle_id или ts событие бесполезно.
func DecodeTelemetry(b []byte) (models.TelemetryEvent, error) {
	var m TelemetryReported
	if err := json.Unmarshal(b, &m); err != nil {
		return models.TelemetryEvent{}, errors.Wrap(err, "decode telemetry")
	}
	if strings.TrimSpace(m.VehicleID) == "" {
		return models.TelemetryEvent{}, errors.New("telemetry: vehicle_id is required")
	}
	if m.TS.IsZero() {
		return models.TelemetryEvent{}, errors.New("telemetry: ts is required")
	}
	return m.Event(), nil
}

func EncodeTelemetry(e models.TelemetryEvent) ([]byte, error) {
	b, err := json.Marshal(FromEvent(e))
	if err != nil {
		return nil, errors.Wrap(err, "encode telemetry")
	}
	return b, nil
}
