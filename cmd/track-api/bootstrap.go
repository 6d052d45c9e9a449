package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipTrack/config"
	trackviewapi "github.com/BearBump/ShipTrack/internal/api/trackview_api"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/services/tracking"
	"github.com/BearBump/ShipTrack/internal/services/trackview"
	"github.com/BearBump/ShipTrack/internal/storage/pglogistics"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

type trackAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    trackAPIOpts
	handler http.Handler
	hub     *telemetry.Hub
	feed    telemetryFeed

	closers []func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
	rdb := rediscache.NewClient(cfg.Redis.Addr())

	app := &trackAPIApp{
		closers: []func(){st.Close, func() { _ = rdb.Close() }},
	}
	app.handler, app.hub, app.feed = wireTrackAPI(cfg, st, rdb, os.Getenv("swaggerPath"))
	if c, ok := app.feed.(*kafka.Consumer); ok {
		app.closers = append(app.closers, func() { _ = c.Close() })
	}

	httpAddr := cfg.ShipTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	app.opts = trackAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: os.Getenv("swaggerPath"),
		feedRetry:   cfg.ShipTrack.FeedRetry(),
	}
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

// wireTrackAPI собирает граф зависимостей. feed == nil, когда live идёт
// через Redis pub/sub и общий фид не нужен.
func wireTrackAPI(cfg *config.Config, st *pglogistics.Storage, rdb *redis.Client, swaggerPath string) (http.Handler, *telemetry.Hub, telemetryFeed) {
	sc := cfg.ShipTrack

	var (
		hub    *telemetry.Hub
		feed   telemetryFeed
		source telemetry.Source
	)
	switch sc.Transport() {
	case "redis":
		source = telemetry.NewChannel(st, rediscache.NewPubSubFromClient(rdb))
	default:
		hub = telemetry.NewHub(sc.HubBufferSize)
		group := sc.KafkaConsumerGroup
		if group == "" {
			group = "track-api"
		}
		feed = kafka.NewConsumer(cfg.Kafka.Brokers(), cfg.Kafka.Topic(), group)
		source = telemetry.NewChannel(st, hub)
	}
	slog.Info("telemetry transport selected", "transport", sc.Transport(), "topic", cfg.Kafka.Topic())

	breakerCfg := trackview.DefaultBreakerConfig()
	if sc.BreakerMinRequests > 0 {
		breakerCfg.MinRequests = sc.BreakerMinRequests
	}
	if sc.BreakerFailureRatio > 0 {
		breakerCfg.FailureRatio = sc.BreakerFailureRatio
	}
	if sc.BreakerTimeoutSeconds > 0 {
		breakerCfg.Timeout = time.Duration(sc.BreakerTimeoutSeconds) * time.Second
	}
	repo := trackview.NewBreakerRepository(st, breakerCfg)

	cache := rediscache.NewFromClient(rdb)
	asm := trackview.NewAssembler(repo, cache, sc.SnapshotCacheTTL())
	svc := trackview.NewService(asm, st, sc.ProgressTick())

	api := trackviewapi.New(svc, source, rediscache.NewRateLimiterFromClient(rdb), trackviewapi.Options{
		SwaggerPath:            swaggerPath,
		LiveRateLimitPerMinute: sc.LiveRateLimitPerMinute,
		Ready: func(ctx context.Context) error {
			if err := st.Ping(ctx); err != nil {
				return err
			}
			return cache.Ping(ctx)
		},
		RegistryOptions: []tracking.Option{
			tracking.WithBackoff(tracking.BackoffConfig{
				Retry1: time.Duration(sc.ResubscribeBackoff1Seconds) * time.Second,
				Retry2: time.Duration(sc.ResubscribeBackoff2Seconds) * time.Second,
				Retry3: time.Duration(sc.ResubscribeBackoff3Seconds) * time.Second,
				Retry4: time.Duration(sc.ResubscribeBackoff4Seconds) * time.Second,
			}),
		},
	})
	return api.Router(), hub, feed
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pglogistics.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pglogistics.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.handler, a.hub, a.feed)
}
