package tracking

import (
	"context"
	"strings"
	"sync"

	"github.com/BearBump/ShipTrack/internal/telemetry"
)

// Registry — сессии одного UI-контекста (одного WebSocket-соединения).
// На машину не больше одной активной сессии: повторный Open закрывает
// предыдущую сессию до открытия новой.
type Registry struct {
	src  telemetry.Source
	opts []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(src telemetry.Source, opts ...Option) *Registry {
	return &Registry{
		src:      src,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

func (r *Registry) Open(ctx context.Context, vehicleID string, obs Observer) (*Session, error) {
	key := strings.TrimSpace(vehicleID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[key]; ok {
		delete(r.sessions, key)
		_ = prev.Close()
	}

	s, err := Open(ctx, r.src, key, obs, r.opts...)
	if err != nil {
		return nil, err
	}
	r.sessions[key] = s
	return s, nil
}

// Release закрывает s и убирает её из реестра, если она всё ещё текущая.
func (r *Registry) Release(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if cur, ok := r.sessions[s.VehicleID()]; ok && cur == s {
		delete(r.sessions, s.VehicleID())
	}
	r.mu.Unlock()
	_ = s.Close()
}

func (r *Registry) Close(vehicleID string) bool {
	key := strings.TrimSpace(vehicleID)
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if ok {
		_ = s.Close()
	}
	return ok
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for k, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, k)
	}
	r.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
}

func (r *Registry) Active(vehicleID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[strings.TrimSpace(vehicleID)]
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
