package pglogistics

import (
	"context"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// LatestTelemetry — последняя точка машины по ts; нет строк — (nil, nil).
func (s *Storage) LatestTelemetry(ctx context.Context, vehicleID string) (*models.TelemetryEvent, error) {
	var e models.TelemetryEvent
	var ts time.Time
	err := s.db.QueryRow(ctx, `
SELECT vehicle_id, ts, lat, lon, speed_kmph, fuel_pct, cargo_temp
FROM vehicle_telemetry
WHERE vehicle_id = $1
ORDER BY ts DESC
LIMIT 1
`, vehicleID).Scan(&e.VehicleID, &ts, &e.Lat, &e.Lon, &e.SpeedKmph, &e.FuelPct, &e.CargoTemp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest telemetry")
	}
	e.Timestamp = ts.UTC()
	return &e, nil
}

func (s *Storage) InsertTelemetry(ctx context.Context, e models.TelemetryEvent) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO vehicle_telemetry (vehicle_id, ts, lat, lon, speed_kmph, fuel_pct, cargo_temp)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, e.VehicleID, e.Timestamp.UTC(), e.Lat, e.Lon, e.SpeedKmph, e.FuelPct, e.CargoTemp)
	return errors.Wrap(err, "insert telemetry")
}

func (s *Storage) ListVehicleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT vehicle_id FROM vehicles ORDER BY vehicle_id`)
	if err != nil {
		return nil, errors.Wrap(err, "select vehicles")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan vehicle id")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
