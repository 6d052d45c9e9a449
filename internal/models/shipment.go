package models

import (
	"strings"
	"time"
)

// Статусы отгрузки. Прочие строки допускаются как есть.
const (
	ShipmentStatusPending   = "pending"
	ShipmentStatusInTransit = "in-transit"
	ShipmentStatusDelivered = "delivered"
)

// NotAvailable — подпись для полей, которые не удалось разрешить.
const NotAvailable = "N/A"

type Shipment struct {
	ID                string     `json:"shipment_id"`
	OrderID           string     `json:"order_id"`
	OriginWarehouseID *string    `json:"origin_warehouse_id,omitempty"`
	VehicleID         *string    `json:"vehicle_id,omitempty"`
	Status            string     `json:"status"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	ExpectedArrival   *time.Time `json:"expected_arrival,omitempty"`
	CurrentETA        *time.Time `json:"current_eta,omitempty"`
	DistanceKM        *float64   `json:"distance_km,omitempty"`
	// Progress — значение прогресса от сервера, если есть.
	Progress *int `json:"progress,omitempty"`
}

// InTransit учитывает оба написания, встречающиеся в данных.
func (s Shipment) InTransit() bool {
	st := strings.ToLower(s.Status)
	return st == ShipmentStatusInTransit || st == "in_transit"
}

func (s Shipment) Delivered() bool {
	return strings.EqualFold(s.Status, ShipmentStatusDelivered)
}

// AssignedVehicle возвращает id машины, если он назначен и не пустой.
func (s Shipment) AssignedVehicle() (string, bool) {
	if s.VehicleID == nil || strings.TrimSpace(*s.VehicleID) == "" {
		return "", false
	}
	return *s.VehicleID, true
}

// ETA: current_eta, иначе expected_arrival.
func (s Shipment) ETA() *time.Time {
	if s.CurrentETA != nil {
		return s.CurrentETA
	}
	return s.ExpectedArrival
}

type Destination struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address,omitempty"`
	City    string  `json:"city,omitempty"`
}

func (d Destination) Point() Point {
	return Point{Lat: d.Lat, Lng: d.Lon, Label: strings.TrimSpace(d.Address + " " + d.City)}
}

type Order struct {
	ID          string       `json:"order_id"`
	CustomerID  *string      `json:"customer_id,omitempty"`
	Status      string       `json:"status"`
	Destination *Destination `json:"destination,omitempty"`
}

type Warehouse struct {
	ID     string  `json:"warehouse_id"`
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Region string  `json:"region,omitempty"`
}

func (w Warehouse) Point() Point {
	label := w.Name
	if label == "" {
		label = "Origin"
	}
	return Point{Lat: w.Lat, Lng: w.Lon, Label: label}
}

type Customer struct {
	ID   string `json:"customer_id"`
	Name string `json:"name"`
}

type Vehicle struct {
	ID          string `json:"vehicle_id"`
	VehicleType string `json:"vehicle_type"`
	PlateNumber string `json:"plate_number,omitempty"`
	Status      string `json:"status"`
}

// Point — координата для карты (lng, как ждёт презентационный слой).
type Point struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label"`
}
