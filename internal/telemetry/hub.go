package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
)

const defaultSubscriptionBuffer = 64

// Hub — in-process fan-out телеметрии по vehicle id. Питается из Kafka
// (см. cmd/track-api), раздаёт события подпискам сессий.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[*hubSubscription]struct{}
	available bool
	downErr   error
	buffer    int

	dispatched atomic.Int64
	dropped    atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Hub{
		subs:      make(map[string]map[*hubSubscription]struct{}),
		available: true,
		buffer:    buffer,
	}
}

func (h *Hub) Subscribe(_ context.Context, vehicleID string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.available {
		cause := "telemetry feed unavailable"
		if h.downErr != nil {
			cause = cause + ": " + h.downErr.Error()
		}
		return nil, errors.Wrap(models.ErrSubscriptionFailed, cause)
	}

	s := &hubSubscription{
		hub:       h,
		vehicleID: vehicleID,
		ch:        make(chan models.TelemetryEvent, h.buffer),
	}
	set, ok := h.subs[vehicleID]
	if !ok {
		set = make(map[*hubSubscription]struct{})
		h.subs[vehicleID] = set
	}
	set[s] = struct{}{}
	return s, nil
}

// Dispatch раздаёт событие всем подпискам машины и возвращает число получателей.
// Отправка неблокирующая: переполненный буфер теряет событие.
func (h *Hub) Dispatch(ev models.TelemetryEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dispatched.Add(1)
	n := 0
	for s := range h.subs[ev.VehicleID] {
		select {
		case s.ch <- ev:
			n++
		default:
			h.dropped.Add(1)
			s.dropped++
			metrics.HubDroppedEvents.Inc()
			if s.dropped == 1 {
				slog.Warn("telemetry subscriber buffer full, dropping events", "vehicle_id", ev.VehicleID)
			}
		}
	}
	return n
}

// SetAvailable отражает здоровье фида. При падении все подписки
// завершаются с ошибкой, новые не открываются до восстановления.
func (h *Hub) SetAvailable(ok bool, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.available = ok
	if ok {
		h.downErr = nil
		return
	}
	if cause == nil {
		cause = errors.New("telemetry feed stopped")
	}
	h.downErr = cause
	for vehicleID, set := range h.subs {
		for s := range set {
			s.terminateLocked(errors.Wrap(cause, "telemetry feed"))
		}
		delete(h.subs, vehicleID)
	}
}

func (h *Hub) Available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

// Subscriptions — число открытых подписок на машину.
func (h *Hub) Subscriptions(vehicleID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[vehicleID])
}

type HubStats struct {
	Dispatched int64 `json:"dispatched"`
	Dropped    int64 `json:"dropped"`
	Vehicles   int   `json:"vehicles"`
	Available  bool  `json:"available"`
}

func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Dispatched: h.dispatched.Load(),
		Dropped:    h.dropped.Load(),
		Vehicles:   len(h.subs),
		Available:  h.available,
	}
}

type hubSubscription struct {
	hub       *Hub
	vehicleID string
	ch        chan models.TelemetryEvent

	// под hub.mu
	closed  bool
	err     error
	dropped int64
}

func (s *hubSubscription) Events() <-chan models.TelemetryEvent { return s.ch }

func (s *hubSubscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Dropped — сколько событий подписка потеряла из-за полного буфера.
func (s *hubSubscription) Dropped() int64 {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if set, ok := s.hub.subs[s.vehicleID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.vehicleID)
		}
	}
	close(s.ch)
	return nil
}

func (s *hubSubscription) terminateLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
