// Package simulator генерирует тестовую телеметрию машин для разработки.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
)

type Repository interface {
	ListVehicleIDs(ctx context.Context) ([]string, error)
}

type Publisher interface {
	PublishTelemetry(ctx context.Context, ev models.TelemetryEvent) error
}

// Recorder сохраняет точку в БД, откуда её берёт начальный снимок сессии.
type Recorder interface {
	InsertTelemetry(ctx context.Context, ev models.TelemetryEvent) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Box — прямоугольник, в котором генерируются координаты.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func DefaultBox() Box {
	return Box{MinLat: 34.0, MaxLat: 34.2, MinLon: -118.6, MaxLon: -118.3}
}

const publishAttempts = 5

type Emitter struct {
	repo     Repository
	pub      Publisher
	recorder Recorder
	rl       RateLimiter

	rnd Rand
	now func() time.Time

	box                Box
	interval           time.Duration
	concurrency        int
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalEmitted        atomic.Int64
	totalErrors         atomic.Int64
	totalLimited        atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, pub Publisher) *Emitter {
	return &Emitter{
		repo:              repo,
		pub:               pub,
		rnd:               rand.New(rand.NewSource(time.Now().UnixNano())),
		now:               func() time.Time { return time.Now().UTC() },
		box:               DefaultBox(),
		interval:          10 * time.Second,
		concurrency:       4,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (e *Emitter) WithSettings(interval time.Duration, concurrency int) *Emitter {
	if interval > 0 {
		e.interval = interval
	}
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	return e
}

func (e *Emitter) WithBox(b Box) *Emitter {
	if b.MaxLat > b.MinLat && b.MaxLon > b.MinLon {
		e.box = b
	}
	return e
}

func (e *Emitter) WithRecorder(r Recorder) *Emitter {
	e.recorder = r
	return e
}

func (e *Emitter) WithRateLimit(rl RateLimiter, perMinute int64) *Emitter {
	e.rl = rl
	e.rateLimitPerMinute = perMinute
	return e
}

func (e *Emitter) WithRand(r Rand) *Emitter {
	if r != nil {
		e.rnd = r
	}
	return e
}

func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	if now != nil {
		e.now = now
	}
	return e
}

// Trigger forces an immediate emit cycle (best-effort, non-blocking).
func (e *Emitter) Trigger() {
	e.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles   int64      `json:"totalCycles"`
	TotalEmitted  int64      `json:"totalEmitted"`
	TotalErrors   int64      `json:"totalErrors"`
	TotalLimited  int64      `json:"totalLimited"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (e *Emitter) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, e.startedAtUnixNano).UTC(),
		TotalCycles:  e.totalCycles.Load(),
		TotalEmitted: e.totalEmitted.Load(),
		TotalErrors:  e.totalErrors.Load(),
		TotalLimited: e.totalLimited.Load(),
		InFlight:     e.inFlight.Load(),
	}
	if n := e.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := e.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

func (e *Emitter) Run(ctx context.Context) error {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.runOnce(ctx)
		case <-e.triggerCh:
			e.runOnce(ctx)
		}
	}
}

func (e *Emitter) runOnce(ctx context.Context) {
	now := e.now()
	e.lastCycleUnixNano.Store(now.UnixNano())
	e.totalCycles.Add(1)

	ids, err := e.repo.ListVehicleIDs(ctx)
	if err != nil {
		slog.Error("list vehicles", "error", err.Error())
		e.setLastError(err)
		return
	}
	if len(ids) == 0 {
		slog.Info("no vehicles to simulate")
		return
	}

	// генерация в одной горутине: Rand не потокобезопасен
	selected := e.pick(ids)
	events := make([]models.TelemetryEvent, 0, len(selected))
	for _, id := range selected {
		events = append(events, e.generate(id, now))
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, ev := range events {
		sem <- struct{}{}
		wg.Add(1)
		evCopy := ev
		e.inFlight.Add(1)
		go func() {
			defer func() {
				e.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := e.emitOne(ctx, evCopy); err != nil {
				e.totalErrors.Add(1)
				e.setLastError(err)
				metrics.SimulatedEvents.WithLabelValues("error").Inc()
				slog.Error("emit telemetry", "vehicle_id", evCopy.VehicleID, "error", err.Error())
			}
		}()
	}
	wg.Wait()
	slog.Info("telemetry batch emitted", "vehicles", len(ids), "events", len(events))
}

// pick выбирает случайное подмножество размером 1..max(1, n/2).
func (e *Emitter) pick(ids []string) []string {
	upper := len(ids) / 2
	if upper < 1 {
		upper = 1
	}
	k := 1 + e.rnd.Intn(upper)

	cp := append([]string(nil), ids...)
	for i := 0; i < k; i++ {
		j := i + e.rnd.Intn(len(cp)-i)
		cp[i], cp[j] = cp[j], cp[i]
	}
	return cp[:k]
}

func (e *Emitter) generate(vehicleID string, now time.Time) models.TelemetryEvent {
	fuel := round(e.uniform(5, 95), 2)
	temp := round(e.uniform(-5, 5), 2)
	return models.TelemetryEvent{
		VehicleID: vehicleID,
		Timestamp: now,
		Lat:       round(e.uniform(e.box.MinLat, e.box.MaxLat), 6),
		Lon:       round(e.uniform(e.box.MinLon, e.box.MaxLon), 6),
		SpeedKmph: round(e.uniform(0, 100), 2),
		FuelPct:   &fuel,
		CargoTemp: &temp,
	}
}

func (e *Emitter) emitOne(ctx context.Context, ev models.TelemetryEvent) error {
	if e.rl != nil && e.rateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:sim:%s", ev.Timestamp.Format("200601021504"))
		allowed, n, err := e.rl.Allow(ctx, key, e.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			slog.Warn("simulator rate limit exceeded", "count", n)
			e.totalLimited.Add(1)
			metrics.SimulatedEvents.WithLabelValues("limited").Inc()
			return nil
		}
	}

	if e.recorder != nil {
		if err := e.recorder.InsertTelemetry(ctx, ev); err != nil {
			return err
		}
	}

	// Kafka может быть не готова сразу после старта docker compose.
	var pubErr error
	for i := 0; i < publishAttempts; i++ {
		if pubErr = e.pub.PublishTelemetry(ctx, ev); pubErr == nil || i == publishAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	if pubErr != nil {
		return pubErr
	}

	e.totalEmitted.Add(1)
	metrics.SimulatedEvents.WithLabelValues("published").Inc()
	return nil
}

func (e *Emitter) uniform(lo, hi float64) float64 {
	return lo + e.rnd.Float64()*(hi-lo)
}

func (e *Emitter) setLastError(err error) {
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
