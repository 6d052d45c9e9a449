package trackview_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/cache/rediscache"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/services/trackview"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	trackviewmocks "github.com/BearBump/ShipTrack/internal/services/trackview/mocks"
)

const shipmentID = "6f1c1a52-6a57-4d53-9f0e-1b8f3a1c2d4e"

func ptr[T any](v T) *T { return &v }

type noTelemetry struct{}

func (noTelemetry) LatestTelemetry(context.Context, string) (*models.TelemetryEvent, error) {
	return nil, nil
}

func newRepo() *trackviewmocks.MockRepository {
	shipped := time.Now().UTC().Add(-time.Hour)
	expected := shipped.Add(2 * time.Hour)
	repo := &trackviewmocks.MockRepository{}
	repo.On("GetShipment", mock.Anything, shipmentID).Return(&models.Shipment{
		ID: shipmentID, OrderID: "or-1", VehicleID: ptr("veh-1"),
		Status: models.ShipmentStatusInTransit, ShippedAt: &shipped, ExpectedArrival: &expected,
	}, nil)
	repo.On("GetShipment", mock.Anything, mock.Anything).Return(nil, models.ErrNotFound)
	repo.On("GetOrder", mock.Anything, "or-1").Return(&models.Order{
		ID: "or-1", Destination: &models.Destination{Lat: 39.65, Lon: 66.96, City: "Samarkand"},
	}, nil)
	repo.On("GetVehicle", mock.Anything, "veh-1").Return(&models.Vehicle{ID: "veh-1", VehicleType: "truck"}, nil)
	return repo
}

type apiEnv struct {
	hub *telemetry.Hub
	srv *httptest.Server
}

func newAPIEnv(t *testing.T, repo trackview.Repository, rl RateLimiter, opts Options) *apiEnv {
	t.Helper()
	hub := telemetry.NewHub(8)
	src := telemetry.NewChannel(noTelemetry{}, hub)
	svc := trackview.NewService(trackview.NewAssembler(repo, nil, 0), src, time.Hour)

	srv := httptest.NewServer(New(svc, src, rl, opts).Router())
	t.Cleanup(srv.Close)
	return &apiEnv{hub: hub, srv: srv}
}

func (e *apiEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHealthAndReady(t *testing.T) {
	env := newAPIEnv(t, newRepo(), nil, Options{Ready: func(context.Context) error { return errors.New("pg down") }})

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLookup_StatusCodes(t *testing.T) {
	repo := newRepo()
	env := newAPIEnv(t, repo, nil, Options{})

	resp, err := http.Get(env.srv.URL + "/v1/track/" + shipmentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap trackview.ViewSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Equal(t, shipmentID, snap.ShipmentID)
	require.Equal(t, 50, snap.Progress)
	require.Equal(t, models.NotAvailable, snap.Customer)
	require.Equal(t, "Samarkand", snap.Destination.Label)
	require.Equal(t, trackview.TrackingAwaitingSignal, snap.TrackingState)

	resp2, err := http.Get(env.srv.URL + "/v1/track/not-a-uuid")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(env.srv.URL + "/v1/track/00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	_ = resp3.Body.Close()
	require.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestLookup_StoreErrorIs500(t *testing.T) {
	repo := &trackviewmocks.MockRepository{}
	repo.On("GetShipment", mock.Anything, mock.Anything).Return(nil, errors.New("pool closed"))
	env := newAPIEnv(t, repo, nil, Options{})

	resp, err := http.Get(env.srv.URL + "/v1/track/" + shipmentID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "internal error", body["error"])
}

func TestLive_StreamsUpdatesAndStops(t *testing.T) {
	env := newAPIEnv(t, newRepo(), nil, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/"+shipmentID+"/live"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	require.Equal(t, MessageTypeSnapshot, first.Type)
	require.NotNil(t, first.Data)
	require.Equal(t, shipmentID, first.Data.ShipmentID)

	require.Eventually(t, func() bool { return env.hub.Subscriptions("veh-1") == 1 }, time.Second, 5*time.Millisecond)
	env.hub.Dispatch(models.TelemetryEvent{VehicleID: "veh-1", Lat: 40, Lon: 67, SpeedKmph: 60, Timestamp: time.Now().UTC()})

	var live Message
	for i := 0; i < 5; i++ {
		live = readMessage(t, conn)
		if live.Data != nil && live.Data.CurrentLocation != nil {
			break
		}
	}
	require.NotNil(t, live.Data.CurrentLocation)
	require.Equal(t, "Vehicle veh-1", live.Data.CurrentLocation.Label)
	require.Equal(t, trackview.TrackingLive, live.Data.TrackingState)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeStop}))
	var stopped Message
	for i := 0; i < 5; i++ {
		stopped = readMessage(t, conn)
		if stopped.Type == MessageTypeStopped {
			break
		}
	}
	require.Equal(t, MessageTypeStopped, stopped.Type)
	require.Equal(t, 0, env.hub.Subscriptions("veh-1"))

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeTrack, ShipmentID: "bad"}))
	errMsg := readMessage(t, conn)
	require.Equal(t, MessageTypeError, errMsg.Type)
}

func TestLive_DisconnectReleasesSessions(t *testing.T) {
	env := newAPIEnv(t, newRepo(), nil, Options{})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/"+shipmentID+"/live"), nil)
	require.NoError(t, err)
	_ = readMessage(t, conn)
	require.Eventually(t, func() bool { return env.hub.Subscriptions("veh-1") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.Subscriptions("veh-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLive_ErrorsBeforeUpgrade(t *testing.T) {
	env := newAPIEnv(t, newRepo(), nil, Options{})

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/not-a-uuid/live"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL("/v1/track/00000000-0000-4000-8000-000000000000/live"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLive_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newAPIEnv(t, newRepo(), rediscache.NewRateLimiter(mr.Addr()), Options{LiveRateLimitPerMinute: 1})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/"+shipmentID+"/live"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/"+shipmentID+"/live"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLive_RateLimiterDownAllows(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := rediscache.NewRateLimiter(mr.Addr())
	mr.Close()
	env := newAPIEnv(t, newRepo(), rl, Options{LiveRateLimitPerMinute: 1})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("/v1/track/"+shipmentID+"/live"), nil)
	require.NoError(t, err)
	_ = conn.Close()
}
