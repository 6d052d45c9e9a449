package trackview_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/tracking"
	"github.com/BearBump/ShipTrack/internal/services/trackview"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Tracker interface {
	Lookup(ctx context.Context, shipmentID string) (trackview.ViewSnapshot, error)
	Track(ctx context.Context, reg *tracking.Registry, shipmentID string, l trackview.Listener) (*trackview.View, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Options struct {
	SwaggerPath string
	// LiveRateLimitPerMinute — открытий live-стрима в минуту с одного адреса; 0 — без лимита.
	LiveRateLimitPerMinute int64
	// Ready — проверка зависимостей для /readyz; nil — всегда готов.
	Ready func(ctx context.Context) error
	// RegistryOptions применяются к реестру каждого соединения.
	RegistryOptions []tracking.Option
}

type TrackViewAPI struct {
	svc      Tracker
	source   telemetry.Source
	rl       RateLimiter
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time
}

// New: rl может быть nil.
func New(svc Tracker, source telemetry.Source, rl RateLimiter, opts Options) *TrackViewAPI {
	return &TrackViewAPI{
		svc:    svc,
		source: source,
		rl:     rl,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (a *TrackViewAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", a.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	if a.opts.SwaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, a.opts.SwaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger.json"),
		))
	}

	r.Route("/v1/track/{shipmentID}", func(r chi.Router) {
		r.Get("/", a.handleLookup)
		r.Get("/live", a.handleLive)
	})
	return r
}

func (a *TrackViewAPI) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.opts.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *TrackViewAPI) handleLookup(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Lookup(r.Context(), chi.URLParam(r, "shipmentID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *TrackViewAPI) handleLive(w http.ResponseWriter, r *http.Request) {
	if !a.allowLive(r) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many live streams"})
		return
	}

	reg := tracking.NewRegistry(a.source, a.opts.RegistryOptions...)
	c := newLiveClient(a.svc, reg)

	// ошибки сборки отдаём HTTP-статусом до апгрейда
	if err := c.track(r.Context(), chi.URLParam(r, "shipmentID")); err != nil {
		reg.CloseAll()
		writeError(w, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.stop()
		reg.CloseAll()
		slog.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c.serve(conn)
}

func (a *TrackViewAPI) allowLive(r *http.Request) bool {
	if a.rl == nil || a.opts.LiveRateLimitPerMinute <= 0 {
		return true
	}
	ok, n, err := a.rl.Allow(r.Context(), rediscache.LiveStreamKey(clientIP(r), a.now()), a.opts.LiveRateLimitPerMinute, time.Minute)
	if err != nil {
		// лимитер недоступен — не блокируем трекинг
		slog.Warn("live rate limiter failed", "error", err.Error())
		return true
	}
	if !ok {
		slog.Info("live stream rate limited", "remote", clientIP(r), "count", n)
	}
	return ok
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		slog.Error("tracking request failed", "error", msg)
		msg = "internal error"
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
