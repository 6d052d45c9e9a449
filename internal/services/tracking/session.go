package tracking

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type State int

const (
	StateIdle State = iota
	StateOpening
	StateActive
	StateDegraded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type UpdateKind int

const (
	UpdatePosition UpdateKind = iota + 1
	UpdateState
)

// Update — уведомление наблюдателю. Для UpdatePosition заполнен Position,
// для UpdateState — State и, при деградации, Err.
type Update struct {
	Kind     UpdateKind
	Position models.TelemetryEvent
	State    State
	Err      error
}

// Observer вызывается только из event loop сессии, последовательно.
// Вызывать Session.Close синхронно из Notify нельзя.
type Observer interface {
	Notify(u Update)
}

type ObserverFunc func(u Update)

func (f ObserverFunc) Notify(u Update) { f(u) }

type Option func(*Session)

func WithBackoff(cfg BackoffConfig) Option {
	return func(s *Session) { s.backoff = NewBackoff(cfg) }
}

// Session — отслеживание одной машины: начальный снимок + live-подписка.
type Session struct {
	id        string
	vehicleID string
	src       telemetry.Source
	obs       Observer
	backoff   *Backoff

	mu       sync.Mutex
	state    State
	latest   *models.TelemetryEvent
	warnings []error

	closing   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// только из event loop (до старта loop — из Open)
	sub      telemetry.Subscription
	failures int32
}

// Open ждёт последнюю точку из хранилища, затем открывает live-подписку.
// Провал снимка и провал подписки не фатальны: сессия возвращается
// в Active или Degraded, предупреждения доступны через Warnings.
func Open(ctx context.Context, src telemetry.Source, vehicleID string, obs Observer, opts ...Option) (*Session, error) {
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return nil, errors.Wrap(models.ErrInvalidTarget, "empty vehicle id")
	}
	if obs == nil {
		obs = ObserverFunc(func(Update) {})
	}

	s := &Session{
		id:        uuid.NewString(),
		vehicleID: vehicleID,
		src:       src,
		obs:       obs,
		backoff:   NewBackoff(DefaultBackoffConfig()),
		state:     StateOpening,
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	var initial []Update

	ev, err := src.LatestTelemetry(ctx, vehicleID)
	switch {
	case err != nil:
		s.warn(errors.Wrap(err, "latest telemetry"))
		slog.Warn("initial telemetry snapshot failed", "vehicle_id", vehicleID, "session_id", s.id, "error", err.Error())
	case ev != nil && ev.VehicleID == vehicleID:
		cp := *ev
		s.latest = &cp
		initial = append(initial, Update{Kind: UpdatePosition, Position: cp})
	}

	if err := ctx.Err(); err != nil {
		s.cancel()
		return nil, errors.Wrap(err, "open session")
	}

	sub, err := src.Subscribe(ctx, vehicleID)
	if err != nil {
		werr := s.subscriptionFailed(err)
		s.setState(StateDegraded)
		initial = append(initial, Update{Kind: UpdateState, State: StateDegraded, Err: werr})
	} else {
		s.sub = sub
		s.setState(StateActive)
		initial = append(initial, Update{Kind: UpdateState, State: StateActive})
	}

	metrics.SessionsActive.Inc()
	slog.Info("tracking session opened", "session_id", s.id, "vehicle_id", vehicleID, "state", s.State().String())

	go s.run(initial)
	return s, nil
}

func (s *Session) ID() string        { return s.id }
func (s *Session) VehicleID() string { return s.vehicleID }

// Latest — последняя принятая точка или nil.
func (s *Session) Latest() *models.TelemetryEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.warnings))
	copy(out, s.warnings)
	return out
}

// Close идемпотентен. После возврата наблюдатель больше не вызывается,
// подписка закрыта.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		close(s.done)
		<-s.loopDone

		s.mu.Lock()
		s.state = StateClosed
		s.latest = nil
		s.mu.Unlock()

		metrics.SessionsActive.Dec()
		slog.Info("tracking session closed", "session_id", s.id, "vehicle_id", s.vehicleID)
	})
	return nil
}

func (s *Session) run(initial []Update) {
	defer close(s.loopDone)
	defer s.closeSubscription()

	for _, u := range initial {
		s.notify(u)
	}

	var timer *time.Timer
	var retryC <-chan time.Time
	if s.sub == nil {
		timer = time.NewTimer(s.backoff.Delay(s.failures))
		retryC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var events <-chan models.TelemetryEvent
		if s.sub != nil {
			events = s.sub.Events()
		}

		select {
		case <-s.done:
			return

		case ev, ok := <-events:
			if ok {
				s.apply(ev)
				continue
			}
			cause := s.sub.Err()
			_ = s.sub.Close()
			s.sub = nil
			if s.closing.Load() {
				return
			}
			if cause == nil {
				cause = errors.New("live stream ended")
			}
			werr := s.subscriptionFailed(cause)
			s.setState(StateDegraded)
			s.notify(Update{Kind: UpdateState, State: StateDegraded, Err: werr})
			timer = time.NewTimer(s.backoff.Delay(s.failures))
			retryC = timer.C

		case <-retryC:
			retryC = nil
			sub, err := s.src.Subscribe(s.ctx, s.vehicleID)
			if err != nil {
				if s.closing.Load() {
					return
				}
				s.subscriptionFailed(err)
				timer = time.NewTimer(s.backoff.Delay(s.failures))
				retryC = timer.C
				continue
			}
			s.sub = sub
			if s.closing.Load() {
				return
			}
			s.failures = 0
			s.setState(StateActive)
			slog.Info("tracking session resubscribed", "session_id", s.id, "vehicle_id", s.vehicleID)
			s.notify(Update{Kind: UpdateState, State: StateActive})
		}
	}
}

// apply принимает событие только своей машины и только строго новее текущего.
func (s *Session) apply(ev models.TelemetryEvent) {
	if s.closing.Load() {
		metrics.TelemetryEvents.WithLabelValues(metrics.EventLate).Inc()
		return
	}
	if ev.VehicleID != s.vehicleID {
		metrics.TelemetryEvents.WithLabelValues(metrics.EventForeign).Inc()
		return
	}

	s.mu.Lock()
	if !ev.NewerThan(s.latest) {
		s.mu.Unlock()
		metrics.TelemetryEvents.WithLabelValues(metrics.EventStale).Inc()
		return
	}
	cp := ev
	s.latest = &cp
	s.mu.Unlock()

	metrics.TelemetryEvents.WithLabelValues(metrics.EventApplied).Inc()
	s.notify(Update{Kind: UpdatePosition, Position: cp})
}

func (s *Session) notify(u Update) {
	if s.closing.Load() {
		return
	}
	s.obs.Notify(u)
}

func (s *Session) subscriptionFailed(cause error) error {
	s.failures++
	metrics.SubscriptionFailures.Inc()
	werr := cause
	if !errors.Is(cause, models.ErrSubscriptionFailed) {
		werr = errors.Wrap(models.ErrSubscriptionFailed, cause.Error())
	}
	s.warn(werr)
	slog.Warn("live telemetry subscription failed",
		"session_id", s.id, "vehicle_id", s.vehicleID,
		"failures", s.failures, "retry_in", s.backoff.Delay(s.failures).String(),
		"error", werr.Error())
	return werr
}

func (s *Session) closeSubscription() {
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// храним только последние maxWarnings предупреждений
const maxWarnings = 16

func (s *Session) warn(err error) {
	s.mu.Lock()
	s.warnings = append(s.warnings, err)
	if len(s.warnings) > maxWarnings {
		s.warnings = s.warnings[len(s.warnings)-maxWarnings:]
	}
	s.mu.Unlock()
}
