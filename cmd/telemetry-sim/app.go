package main

import (
	"context"
	"time"

	"github.com/BearBump/ShipTrack/config"
	"github.com/BearBump/ShipTrack/internal/broker/kafka"
	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/services/simulator"
	"github.com/BearBump/ShipTrack/internal/storage/pglogistics"
)

// simStorage — хранилище симулятора: список машин и запись точек.
type simStorage interface {
	simulator.Repository
	simulator.Recorder
}

type simFactories struct {
	newStorage     func(cfg *config.Config) (repo simStorage, closeFn func(), err error)
	newPublisher   func(cfg *config.Config) (pub simulator.Publisher, closeFn func())
	newRateLimiter func(cfg *config.Config) simulator.RateLimiter
}

func defaultSimFactories() simFactories {
	return simFactories{
		newStorage: func(cfg *config.Config) (simStorage, func(), error) {
			st, err := pglogistics.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newPublisher: func(cfg *config.Config) (simulator.Publisher, func()) {
			if cfg.ShipTrack.Transport() == "redis" {
				ps := rediscache.NewPubSub(cfg.Redis.Addr())
				return ps, func() { _ = ps.Close() }
			}
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return kafka.NewTelemetryPublisher(p, cfg.Kafka.Topic()), func() { _ = p.Close() }
		},
		newRateLimiter: func(cfg *config.Config) simulator.RateLimiter {
			if cfg.ShipTrack.SimulatorRateLimitPerMinute <= 0 {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr())
		},
	}
}

func newEmitter(cfg *config.Config, repo simStorage, pub simulator.Publisher, rl simulator.RateLimiter) *simulator.Emitter {
	sc := cfg.ShipTrack
	e := simulator.New(repo, pub).
		WithSettings(time.Duration(sc.SimulatorIntervalSeconds)*time.Second, sc.SimulatorConcurrency).
		WithBox(simulator.Box{
			MinLat: sc.SimulatorMinLat,
			MaxLat: sc.SimulatorMaxLat,
			MinLon: sc.SimulatorMinLon,
			MaxLon: sc.SimulatorMaxLon,
		})
	if sc.SimulatorRecordTelemetry {
		e = e.WithRecorder(repo)
	}
	if rl != nil {
		e = e.WithRateLimit(rl, sc.SimulatorRateLimitPerMinute)
	}
	return e
}

// RunTelemetrySim запускает генератор и служебный HTTP до отмены ctx.
func RunTelemetrySim(ctx context.Context, cfg *config.Config, f simFactories, httpOpts simHTTPOpts) error {
	repo, closeStorage, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeStorage != nil {
		defer closeStorage()
	}

	pub, closePub := f.newPublisher(cfg)
	if closePub != nil {
		defer closePub()
	}

	e := newEmitter(cfg, repo, pub, f.newRateLimiter(cfg))

	httpErr := make(chan error, 1)
	if httpOpts.httpAddr != "" {
		httpOpts.emitter = e
		httpOpts.cfg = cfg
		go func() { httpErr <- runSimHTTPServer(ctx, httpOpts) }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		if err != nil {
			return err
		}
		return <-runErr
	}
}
