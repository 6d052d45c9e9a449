package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	trackviewapi "github.com/BearBump/ShipTrack/internal/api/trackview_api"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/trackview"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct{}

func (fakeRepo) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	return nil, models.ErrNotFound
}
func (fakeRepo) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return nil, models.ErrNotFound
}
func (fakeRepo) GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error) {
	return nil, models.ErrNotFound
}
func (fakeRepo) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	return nil, models.ErrNotFound
}
func (fakeRepo) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return nil, models.ErrNotFound
}

type noSnapshot struct{}

func (noSnapshot) LatestTelemetry(ctx context.Context, vehicleID string) (*models.TelemetryEvent, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, hub *telemetry.Hub, swaggerPath string) http.Handler {
	t.Helper()
	svc := trackview.NewService(trackview.NewAssembler(fakeRepo{}, nil, 0), noSnapshot{}, time.Minute)
	api := trackviewapi.New(svc, telemetry.NewChannel(noSnapshot{}, hub), nil, trackviewapi.Options{SwaggerPath: swaggerPath})
	return api.Router()
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRunTrackAPI_ServesRoutes(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	hub := telemetry.NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := trackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: sw,
		onListen:    func(httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runTrackAPI(ctx, opts, newTestHandler(t, hub, sw), hub, nil)
	}()
	addr := <-addrCh

	code, body := get(t, "http://"+addr+"/swagger.json")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "\"swagger\"")

	code, _ = get(t, "http://"+addr+"/healthz")
	require.Equal(t, http.StatusOK, code)

	code, _ = get(t, "http://"+addr+"/v1/track/not-a-uuid/")
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, "http://"+addr+"/v1/track/7b0c8e52-3f0a-4d7e-9a55-2f4f3c1f9a10/")
	require.Equal(t, http.StatusNotFound, code)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunTrackAPI_MissingSwaggerFile(t *testing.T) {
	opts := trackAPIOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}
	err := runTrackAPI(context.Background(), opts, http.NotFoundHandler(), nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "swagger file not found")
}

// scriptedFeed выполняет calls по очереди; после последнего ждёт отмены.
type scriptedFeed struct {
	calls []func(ctx context.Context, handle func(models.TelemetryEvent)) error
	n     atomic.Int32
}

func (f *scriptedFeed) ConsumeTelemetry(ctx context.Context, handle func(models.TelemetryEvent)) error {
	i := int(f.n.Add(1)) - 1
	if i < len(f.calls) {
		return f.calls[i](ctx, handle)
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunTelemetryFeed_FailureMarksHubUnavailable(t *testing.T) {
	hub := telemetry.NewHub(8)
	sub, err := hub.Subscribe(context.Background(), "truck-1")
	require.NoError(t, err)

	feed := &scriptedFeed{calls: []func(context.Context, func(models.TelemetryEvent)) error{
		func(context.Context, func(models.TelemetryEvent)) error { return errors.New("broker down") },
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runTelemetryFeed(ctx, feed, hub, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return !hub.Available() }, time.Second, 5*time.Millisecond)

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not terminated")
	}
	require.Error(t, sub.Err())

	_, err = hub.Subscribe(context.Background(), "truck-1")
	require.ErrorIs(t, err, models.ErrSubscriptionFailed)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("feed loop did not stop")
	}
}

func TestRunTelemetryFeed_RecoversAndDispatches(t *testing.T) {
	hub := telemetry.NewHub(8)
	started := make(chan struct{})
	send := make(chan struct{})
	ev := models.TelemetryEvent{VehicleID: "truck-1", Lat: 34.1, Lon: -118.4, Timestamp: time.Now().UTC()}

	feed := &scriptedFeed{calls: []func(context.Context, func(models.TelemetryEvent)) error{
		func(context.Context, func(models.TelemetryEvent)) error { return errors.New("broker down") },
		func(ctx context.Context, handle func(models.TelemetryEvent)) error {
			close(started)
			select {
			case <-send:
			case <-ctx.Done():
				return ctx.Err()
			}
			handle(ev)
			<-ctx.Done()
			return ctx.Err()
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runTelemetryFeed(ctx, feed, hub, 10*time.Millisecond)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("feed was not restarted")
	}
	require.True(t, hub.Available())

	sub, err := hub.Subscribe(context.Background(), "truck-1")
	require.NoError(t, err)
	defer sub.Close()
	close(send)

	select {
	case got := <-sub.Events():
		require.Equal(t, "truck-1", got.VehicleID)
		require.True(t, got.Timestamp.Equal(ev.Timestamp))
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}
}
