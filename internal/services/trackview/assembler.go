package trackview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/ShipTrack/internal/cache"
	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Исходы сборки для метрики tracking_view_assemblies_total.
const (
	outcomeOK       = "ok"
	outcomePartial  = "partial"
	outcomeNotFound = "not_found"
	outcomeInvalid  = "invalid"
	outcomeError    = "error"
	outcomeCached   = "cached"
)

type Repository interface {
	GetShipment(ctx context.Context, id string) (*models.Shipment, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
}

// Advisory — поле, которое не удалось разрешить. Вид всё равно показывается.
type Advisory struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Snapshot — отгрузка со всеми разрешёнными связями.
type Snapshot struct {
	Shipment   models.Shipment              `json:"shipment"`
	Order      models.Opt[models.Order]     `json:"order"`
	Origin     models.Opt[models.Warehouse] `json:"origin"`
	Customer   models.Opt[models.Customer]  `json:"customer"`
	Vehicle    models.Opt[models.Vehicle]   `json:"vehicle"`
	Advisories []Advisory                   `json:"advisories,omitempty"`
}

func (s *Snapshot) OriginPoint() *models.Point {
	w, ok := s.Origin.Get()
	if !ok {
		return nil
	}
	p := w.Point()
	return &p
}

func (s *Snapshot) DestinationPoint() *models.Point {
	o, ok := s.Order.Get()
	if !ok || o.Destination == nil {
		return nil
	}
	p := o.Destination.Point()
	return &p
}

func (s *Snapshot) CustomerName() string {
	c, ok := s.Customer.Get()
	if !ok || strings.TrimSpace(c.Name) == "" {
		return models.NotAvailable
	}
	return c.Name
}

// VehicleType — подпись типа машины; без машины пусто.
func (s *Snapshot) VehicleType() string {
	v, ok := s.Vehicle.Get()
	if !ok {
		return ""
	}
	return v.VehicleType
}

// PartialErr — ErrPartialJoin с перечнем полей или nil.
func (s *Snapshot) PartialErr() error {
	if len(s.Advisories) == 0 {
		return nil
	}
	fields := make([]string, 0, len(s.Advisories))
	for _, a := range s.Advisories {
		fields = append(fields, a.Field)
	}
	return errors.Wrap(models.ErrPartialJoin, strings.Join(fields, ", "))
}

type Assembler struct {
	repo  Repository
	cache cache.BytesCache
	ttl   time.Duration
}

// NewAssembler: c может быть nil, ttl <= 0 отключает кэш.
func NewAssembler(repo Repository, c cache.BytesCache, ttl time.Duration) *Assembler {
	return &Assembler{repo: repo, cache: c, ttl: ttl}
}

// ValidateShipmentID — id отгрузки непустой и в формате UUID.
func ValidateShipmentID(shipmentID string) (string, error) {
	id := strings.TrimSpace(shipmentID)
	if id == "" {
		return "", errors.Wrap(models.ErrInvalidTarget, "empty shipment id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.Wrapf(models.ErrInvalidTarget, "shipment id %q", id)
	}
	return id, nil
}

// Assemble загружает отгрузку (фатально) и её связи (не фатально).
func (a *Assembler) Assemble(ctx context.Context, shipmentID string) (*Snapshot, error) {
	id, err := ValidateShipmentID(shipmentID)
	if err != nil {
		metrics.ViewAssemblies.WithLabelValues(outcomeInvalid).Inc()
		return nil, err
	}

	if snap, ok := a.cached(ctx, id); ok {
		metrics.ViewAssemblies.WithLabelValues(outcomeCached).Inc()
		return snap, nil
	}

	sh, err := a.repo.GetShipment(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.ViewAssemblies.WithLabelValues(outcomeNotFound).Inc()
			return nil, err
		}
		metrics.ViewAssemblies.WithLabelValues(outcomeError).Inc()
		return nil, errors.Wrap(err, "get shipment")
	}

	snap := &Snapshot{Shipment: *sh}
	var mu sync.Mutex
	advise := func(field string, err error) {
		mu.Lock()
		snap.Advisories = append(snap.Advisories, Advisory{Field: field, Message: err.Error()})
		mu.Unlock()
	}

	var g errgroup.Group

	if sh.OriginWarehouseID != nil && strings.TrimSpace(*sh.OriginWarehouseID) != "" {
		whID := *sh.OriginWarehouseID
		g.Go(func() error {
			w, err := a.repo.GetWarehouse(ctx, whID)
			if err != nil {
				advise("origin", err)
				return nil
			}
			mu.Lock()
			snap.Origin = models.Some(*w)
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		if strings.TrimSpace(sh.OrderID) == "" {
			advise("destination", errors.New("shipment has no order"))
			return nil
		}
		o, err := a.repo.GetOrder(ctx, sh.OrderID)
		if err != nil {
			advise("destination", err)
			advise("customer", err)
			return nil
		}
		mu.Lock()
		snap.Order = models.Some(*o)
		mu.Unlock()

		if o.Destination == nil {
			advise("destination", errors.Errorf("order %s has no destination", o.ID))
		}
		if o.CustomerID == nil || strings.TrimSpace(*o.CustomerID) == "" {
			return nil
		}
		c, err := a.repo.GetCustomer(ctx, *o.CustomerID)
		if err != nil {
			advise("customer", err)
			return nil
		}
		mu.Lock()
		snap.Customer = models.Some(*c)
		mu.Unlock()
		return nil
	})

	if vehicleID, ok := sh.AssignedVehicle(); ok {
		g.Go(func() error {
			v, err := a.repo.GetVehicle(ctx, vehicleID)
			if err != nil {
				advise("vehicle", err)
				return nil
			}
			mu.Lock()
			snap.Vehicle = models.Some(*v)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	sort.SliceStable(snap.Advisories, func(i, j int) bool {
		return snap.Advisories[i].Field < snap.Advisories[j].Field
	})

	if len(snap.Advisories) > 0 {
		metrics.ViewAssemblies.WithLabelValues(outcomePartial).Inc()
		slog.Warn("tracking view assembled partially",
			"shipment_id", id, "error", snap.PartialErr().Error())
		return snap, nil
	}

	metrics.ViewAssemblies.WithLabelValues(outcomeOK).Inc()
	a.store(ctx, id, snap)
	return snap, nil
}

func (a *Assembler) cached(ctx context.Context, id string) (*Snapshot, bool) {
	if a.cache == nil || a.ttl <= 0 {
		return nil, false
	}
	b, ok, err := a.cache.Get(ctx, snapshotKey(id))
	if err != nil || !ok {
		return nil, false
	}
	var snap Snapshot
	if json.Unmarshal(b, &snap) != nil {
		return nil, false
	}
	return &snap, true
}

// Частичные снимки не кэшируем: следующая сборка может разрешить связи.
func (a *Assembler) store(ctx context.Context, id string, snap *Snapshot) {
	if a.cache == nil || a.ttl <= 0 {
		return
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = a.cache.Set(ctx, snapshotKey(id), b, a.ttl)
}

func snapshotKey(id string) string {
	return fmt.Sprintf("shipment:%s:snapshot", id)
}
