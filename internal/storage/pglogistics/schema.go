package pglogistics

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS warehouses (
  warehouse_id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  lat DOUBLE PRECISION NOT NULL,
  lon DOUBLE PRECISION NOT NULL,
  region TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS customers (
  customer_id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  order_id TEXT PRIMARY KEY,
  customer_id TEXT NULL,
  status TEXT NOT NULL DEFAULT '',
  destination JSONB NULL
)`,
		`
CREATE TABLE IF NOT EXISTS vehicles (
  vehicle_id TEXT PRIMARY KEY,
  vehicle_type TEXT NOT NULL DEFAULT '',
  plate_number TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT ''
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  shipment_id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  origin_warehouse_id TEXT NULL,
  vehicle_id TEXT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  shipped_at TIMESTAMPTZ NULL,
  expected_arrival TIMESTAMPTZ NULL,
  current_eta TIMESTAMPTZ NULL,
  distance_km DOUBLE PRECISION NULL,
  progress INT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS vehicle_telemetry (
  id BIGSERIAL PRIMARY KEY,
  vehicle_id TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lon DOUBLE PRECISION NOT NULL,
  speed_kmph DOUBLE PRECISION NOT NULL DEFAULT 0,
  fuel_pct DOUBLE PRECISION NULL,
  cargo_temp DOUBLE PRECISION NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicle_telemetry_vehicle_ts ON vehicle_telemetry(vehicle_id, ts DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
