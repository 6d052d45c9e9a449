package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/pkg/errors"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string
	// feedRetry — пауза перед переподключением фида телеметрии.
	feedRetry time.Duration

	onListen func(httpAddr string)
}

type telemetryFeed interface {
	ConsumeTelemetry(ctx context.Context, handle func(models.TelemetryEvent)) error
}

// runTrackAPI поднимает HTTP/WebSocket сервер и, если feed задан, фид
// телеметрии в hub. Возвращается при отмене ctx или падении сервера.
func runTrackAPI(ctx context.Context, opts trackAPIOpts, handler http.Handler, hub *telemetry.Hub, feed telemetryFeed) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, handler)
	}()

	if feed != nil && hub != nil {
		go runTelemetryFeed(ctx, feed, hub, opts.feedRetry)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// runTelemetryFeed читает фид и раздаёт события через hub. Пока фид лежит,
// hub отклоняет подписки, а открытые сессии уходят в degraded и ретраят.
func runTelemetryFeed(ctx context.Context, feed telemetryFeed, hub *telemetry.Hub, retry time.Duration) {
	if retry <= 0 {
		retry = 2 * time.Second
	}
	for {
		hub.SetAvailable(true, nil)
		metrics.TelemetryFeedUp.Set(1)
		slog.Info("telemetry feed started")

		err := feed.ConsumeTelemetry(ctx, func(ev models.TelemetryEvent) {
			hub.Dispatch(ev)
		})
		if ctx.Err() != nil {
			metrics.TelemetryFeedUp.Set(0)
			return
		}
		if err == nil {
			err = errors.New("telemetry feed stopped")
		}

		slog.Error("telemetry feed failed", "error", err.Error(), "retry_in", retry.String())
		hub.SetAvailable(false, err)
		metrics.TelemetryFeedUp.Set(0)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}
