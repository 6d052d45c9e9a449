package pglogistics

import (
	"context"
	"encoding/json"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(models.ErrNotFound, "%s %s", what, id)
	}
	return errors.Wrapf(err, "select %s", what)
}

func (s *Storage) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	var sh models.Shipment
	err := s.db.QueryRow(ctx, `
SELECT
  shipment_id, order_id, origin_warehouse_id, vehicle_id, status,
  shipped_at, expected_arrival, current_eta, distance_km, progress
FROM shipments
WHERE shipment_id = $1
`, id).Scan(
		&sh.ID, &sh.OrderID, &sh.OriginWarehouseID, &sh.VehicleID, &sh.Status,
		&sh.ShippedAt, &sh.ExpectedArrival, &sh.CurrentETA, &sh.DistanceKM, &sh.Progress,
	)
	if err != nil {
		return nil, notFound(err, "shipment", id)
	}
	return &sh, nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	var dest []byte
	err := s.db.QueryRow(ctx, `
SELECT order_id, customer_id, status, destination
FROM orders
WHERE order_id = $1
`, id).Scan(&o.ID, &o.CustomerID, &o.Status, &dest)
	if err != nil {
		return nil, notFound(err, "order", id)
	}
	if len(dest) > 0 && string(dest) != "null" {
		var d models.Destination
		if err := json.Unmarshal(dest, &d); err != nil {
			return nil, errors.Wrap(err, "decode order destination")
		}
		o.Destination = &d
	}
	return &o, nil
}

func (s *Storage) GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error) {
	var w models.Warehouse
	err := s.db.QueryRow(ctx, `
SELECT warehouse_id, name, lat, lon, region
FROM warehouses
WHERE warehouse_id = $1
`, id).Scan(&w.ID, &w.Name, &w.Lat, &w.Lon, &w.Region)
	if err != nil {
		return nil, notFound(err, "warehouse", id)
	}
	return &w, nil
}

func (s *Storage) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
SELECT customer_id, name
FROM customers
WHERE customer_id = $1
`, id).Scan(&c.ID, &c.Name)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return &c, nil
}

func (s *Storage) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := s.db.QueryRow(ctx, `
SELECT vehicle_id, vehicle_type, plate_number, status
FROM vehicles
WHERE vehicle_id = $1
`, id).Scan(&v.ID, &v.VehicleType, &v.PlateNumber, &v.Status)
	if err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	return &v, nil
}

// Upsert-методы нужны для сидинга (симулятор, тесты).

func (s *Storage) UpsertWarehouse(ctx context.Context, w models.Warehouse) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO warehouses (warehouse_id, name, lat, lon, region)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (warehouse_id) DO UPDATE
SET name = EXCLUDED.name, lat = EXCLUDED.lat, lon = EXCLUDED.lon, region = EXCLUDED.region
`, w.ID, w.Name, w.Lat, w.Lon, w.Region)
	return errors.Wrap(err, "upsert warehouse")
}

func (s *Storage) UpsertCustomer(ctx context.Context, c models.Customer) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO customers (customer_id, name)
VALUES ($1,$2)
ON CONFLICT (customer_id) DO UPDATE SET name = EXCLUDED.name
`, c.ID, c.Name)
	return errors.Wrap(err, "upsert customer")
}

func (s *Storage) UpsertOrder(ctx context.Context, o models.Order) error {
	var dest []byte
	if o.Destination != nil {
		b, err := json.Marshal(o.Destination)
		if err != nil {
			return errors.Wrap(err, "encode order destination")
		}
		dest = b
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO orders (order_id, customer_id, status, destination)
VALUES ($1,$2,$3,$4)
ON CONFLICT (order_id) DO UPDATE
SET customer_id = EXCLUDED.customer_id, status = EXCLUDED.status, destination = EXCLUDED.destination
`, o.ID, o.CustomerID, o.Status, dest)
	return errors.Wrap(err, "upsert order")
}

func (s *Storage) UpsertVehicle(ctx context.Context, v models.Vehicle) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO vehicles (vehicle_id, vehicle_type, plate_number, status)
VALUES ($1,$2,$3,$4)
ON CONFLICT (vehicle_id) DO UPDATE
SET vehicle_type = EXCLUDED.vehicle_type, plate_number = EXCLUDED.plate_number, status = EXCLUDED.status
`, v.ID, v.VehicleType, v.PlateNumber, v.Status)
	return errors.Wrap(err, "upsert vehicle")
}

func (s *Storage) UpsertShipment(ctx context.Context, sh models.Shipment) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO shipments (
  shipment_id, order_id, origin_warehouse_id, vehicle_id, status,
  shipped_at, expected_arrival, current_eta, distance_km, progress
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (shipment_id) DO UPDATE
SET order_id = EXCLUDED.order_id,
    origin_warehouse_id = EXCLUDED.origin_warehouse_id,
    vehicle_id = EXCLUDED.vehicle_id,
    status = EXCLUDED.status,
    shipped_at = EXCLUDED.shipped_at,
    expected_arrival = EXCLUDED.expected_arrival,
    current_eta = EXCLUDED.current_eta,
    distance_km = EXCLUDED.distance_km,
    progress = EXCLUDED.progress
`, sh.ID, sh.OrderID, sh.OriginWarehouseID, sh.VehicleID, sh.Status,
		sh.ShippedAt, sh.ExpectedArrival, sh.CurrentETA, sh.DistanceKM, sh.Progress)
	return errors.Wrap(err, "upsert shipment")
}
