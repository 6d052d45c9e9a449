package trackview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/progress"
	"github.com/BearBump/ShipTrack/internal/services/tracking"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/pkg/errors"
)

// Состояние трекинга для презентационного слоя.
const (
	TrackingNoVehicle      = "no_vehicle"
	TrackingOpening        = "opening"
	TrackingAwaitingSignal = "awaiting_signal"
	TrackingLive           = "live"
	TrackingDegraded       = "degraded"
	TrackingClosed         = "closed"
)

const (
	awaitingSignalMessage  = "Awaiting first telemetry signal"
	liveUnavailableMessage = "Live updates unavailable, retrying"
	sessionReplacedMessage = "Tracking moved to a newer view"
)

const defaultProgressTick = 30 * time.Second

// ViewSnapshot — запись для рендера карты и карточки отгрузки.
type ViewSnapshot struct {
	ShipmentID      string          `json:"shipment_id"`
	OrderID         string          `json:"order_id"`
	Customer        string          `json:"customer"`
	Status          string          `json:"status"`
	ETA             *time.Time      `json:"eta"`
	Progress        int             `json:"progress"`
	ProgressSource  progress.Source `json:"progress_source"`
	Origin          *models.Point   `json:"origin"`
	Destination     *models.Point   `json:"destination"`
	CurrentLocation *models.Point   `json:"current_location"`
	VehicleID       string          `json:"vehicle_id,omitempty"`
	VehicleType     string          `json:"vehicle_type,omitempty"`
	SpeedKmph       *float64        `json:"speed_kmph"`
	FuelPct         *float64        `json:"fuel_pct,omitempty"`
	CargoTemp       *float64        `json:"cargo_temp,omitempty"`
	LastUpdate      *time.Time      `json:"last_update"`
	TrackingState   string          `json:"tracking_state"`
	Message         string          `json:"message,omitempty"`
	LiveError       string          `json:"live_error,omitempty"`
	Advisories      []Advisory      `json:"advisories,omitempty"`
}

type Listener interface {
	OnSnapshot(ViewSnapshot)
}

type ListenerFunc func(ViewSnapshot)

func (f ListenerFunc) OnSnapshot(s ViewSnapshot) { f(s) }

type Service struct {
	assembler *Assembler
	snap      telemetry.Snapshotter
	tick      time.Duration
	now       func() time.Time
}

// NewService: snap нужен для разового Lookup (последняя точка машины).
func NewService(assembler *Assembler, snap telemetry.Snapshotter, tick time.Duration) *Service {
	if tick <= 0 {
		tick = defaultProgressTick
	}
	return &Service{
		assembler: assembler,
		snap:      snap,
		tick:      tick,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Lookup — разовая сборка вида без live-подписки.
func (s *Service) Lookup(ctx context.Context, shipmentID string) (ViewSnapshot, error) {
	snap, err := s.assembler.Assemble(ctx, shipmentID)
	if err != nil {
		return ViewSnapshot{}, err
	}

	v := &View{svc: s, snap: snap}
	v.state = tracking.StateIdle
	if vehicleID, ok := snap.Shipment.AssignedVehicle(); ok {
		v.hasVehicle = true
		if s.snap != nil {
			ev, err := s.snap.LatestTelemetry(ctx, vehicleID)
			if err != nil {
				slog.Warn("latest telemetry lookup failed", "shipment_id", snap.Shipment.ID, "vehicle_id", vehicleID, "error", err.Error())
			} else if ev != nil {
				v.position = ev
			}
		}
	}
	v.recomputeLocked()
	return v.snapshotLocked(), nil
}

// Track собирает вид и, если у отгрузки есть машина, открывает сессию
// в реестре UI-контекста. Listener получает снимок на каждое изменение.
// Listener не должен синхронно вызывать View.Close.
func (s *Service) Track(ctx context.Context, reg *tracking.Registry, shipmentID string, l Listener) (*View, error) {
	snap, err := s.assembler.Assemble(ctx, shipmentID)
	if err != nil {
		return nil, err
	}

	v := &View{
		svc:        s,
		snap:       snap,
		reg:        reg,
		listener:   l,
		state:      tracking.StateIdle,
		done:       make(chan struct{}),
		tickerDone: make(chan struct{}),
	}
	v.recomputeLocked()

	if vehicleID, ok := snap.Shipment.AssignedVehicle(); ok {
		v.hasVehicle = true
		v.state = tracking.StateOpening
		sess, err := reg.Open(ctx, vehicleID, v)
		if err != nil {
			return nil, errors.Wrap(err, "open tracking session")
		}
		v.mu.Lock()
		v.session = sess
		v.state = sess.State()
		if w := sess.Warnings(); v.state == tracking.StateDegraded && len(w) > 0 {
			v.liveErr = w[len(w)-1]
		}
		if latest := sess.Latest(); latest != nil && latest.NewerThan(v.position) {
			v.position = latest
		}
		v.mu.Unlock()
	}

	go v.tickLoop()
	return v, nil
}

// View — live-вид одной отгрузки. Observer сессии.
type View struct {
	svc      *Service
	snap     *Snapshot
	reg      *tracking.Registry
	listener Listener

	mu         sync.Mutex
	session    *tracking.Session
	hasVehicle bool
	state      tracking.State
	position   *models.TelemetryEvent
	progress   int
	source     progress.Source
	liveErr    error

	// сериализует вызовы listener из loop сессии и тикера
	notifyMu sync.Mutex

	closing    atomic.Bool
	closeOnce  sync.Once
	done       chan struct{}
	tickerDone chan struct{}
}

// Notify реализует tracking.Observer.
func (v *View) Notify(u tracking.Update) {
	if v.closing.Load() {
		return
	}
	v.mu.Lock()
	switch u.Kind {
	case tracking.UpdatePosition:
		if !u.Position.NewerThan(v.position) {
			v.mu.Unlock()
			return
		}
		p := u.Position
		v.position = &p
	case tracking.UpdateState:
		v.state = u.State
		v.liveErr = nil
		if u.State == tracking.StateDegraded {
			v.liveErr = u.Err
		}
	}
	v.recomputeLocked()
	snap := v.snapshotLocked()
	v.mu.Unlock()

	v.publish(snap)
}

// Refresh пересчитывает прогресс и публикует снимок, если он изменился.
func (v *View) Refresh() {
	if v.closing.Load() {
		return
	}
	v.mu.Lock()
	prev := v.progress
	v.recomputeLocked()
	changed := v.progress != prev
	snap := v.snapshotLocked()
	v.mu.Unlock()

	if changed {
		v.publish(snap)
	}
}

func (v *View) Snapshot() ViewSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

// Session — открытая сессия или nil, если у отгрузки нет машины.
func (v *View) Session() *tracking.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// Close идемпотентен; после возврата listener не вызывается.
func (v *View) Close() error {
	v.closeOnce.Do(func() {
		v.closing.Store(true)
		close(v.done)
		<-v.tickerDone

		v.mu.Lock()
		sess := v.session
		v.mu.Unlock()
		if sess != nil {
			v.reg.Release(sess)
		}

		v.mu.Lock()
		v.state = tracking.StateClosed
		v.mu.Unlock()
	})
	return nil
}

func (v *View) tickLoop() {
	defer close(v.tickerDone)

	t := time.NewTicker(v.svc.tick)
	defer t.Stop()

	for {
		select {
		case <-v.done:
			return
		case <-t.C:
			v.Refresh()
		}
	}
}

func (v *View) publish(snap ViewSnapshot) {
	if v.listener == nil {
		return
	}
	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	if v.closing.Load() {
		return
	}
	v.listener.OnSnapshot(snap)
}

func (v *View) recomputeLocked() {
	sh := v.snap.Shipment
	v.progress, v.source = progress.Resolve(sh.Progress, sh.ShippedAt, sh.ExpectedArrival, v.svc.now())
}

func (v *View) snapshotLocked() ViewSnapshot {
	sh := v.snap.Shipment
	out := ViewSnapshot{
		ShipmentID:     sh.ID,
		OrderID:        sh.OrderID,
		Customer:       v.snap.CustomerName(),
		Status:         sh.Status,
		ETA:            sh.ETA(),
		Progress:       v.progress,
		ProgressSource: v.source,
		Origin:         v.snap.OriginPoint(),
		Destination:    v.snap.DestinationPoint(),
		VehicleType:    v.snap.VehicleType(),
		Advisories:     v.snap.Advisories,
	}
	if vehicleID, ok := sh.AssignedVehicle(); ok {
		out.VehicleID = vehicleID
	}

	if p := v.position; p != nil {
		out.CurrentLocation = &models.Point{Lat: p.Lat, Lng: p.Lon, Label: fmt.Sprintf("Vehicle %s", p.VehicleID)}
		speed := p.SpeedKmph
		out.SpeedKmph = &speed
		out.FuelPct = p.FuelPct
		out.CargoTemp = p.CargoTemp
		ts := p.Timestamp
		out.LastUpdate = &ts
	}

	out.TrackingState = v.trackingStateLocked()
	switch out.TrackingState {
	case TrackingAwaitingSignal, TrackingOpening:
		out.Message = awaitingSignalMessage
	case TrackingDegraded:
		out.Message = liveUnavailableMessage
		if v.liveErr != nil {
			out.LiveError = v.liveErr.Error()
		}
	case TrackingClosed:
		if v.state != tracking.StateClosed {
			out.Message = sessionReplacedMessage
		}
	}
	return out
}

func (v *View) trackingStateLocked() string {
	if v.state == tracking.StateClosed {
		return TrackingClosed
	}
	// сессию мог закрыть реестр при повторном Track той же машины
	if v.session != nil && v.session.State() == tracking.StateClosed {
		return TrackingClosed
	}
	if !v.hasVehicle {
		return TrackingNoVehicle
	}
	switch v.state {
	case tracking.StateOpening:
		return TrackingOpening
	case tracking.StateDegraded:
		return TrackingDegraded
	case tracking.StateActive:
		if v.position == nil {
			return TrackingAwaitingSignal
		}
		return TrackingLive
	default:
		// статический снимок без сессии
		if v.position == nil {
			return TrackingAwaitingSignal
		}
		return TrackingLive
	}
}
