package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan models.TelemetryEvent) models.TelemetryEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no telemetry event received")
	}
	return models.TelemetryEvent{}
}

func TestPubSub_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := NewPubSub(mr.Addr())
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, "V-1")
	require.NoError(t, err)
	defer sub.Close()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ps.PublishTelemetry(ctx, models.TelemetryEvent{VehicleID: "V-1", Lat: 41.3, Lon: 69.2, SpeedKmph: 55, Timestamp: ts}))

	ev := recvEvent(t, sub.Events())
	require.Equal(t, "V-1", ev.VehicleID)
	require.Equal(t, 55.0, ev.SpeedKmph)
	require.True(t, ev.Timestamp.Equal(ts))
}

func TestPubSub_MalformedSkipped(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := NewPubSub(mr.Addr())
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, "V-1")
	require.NoError(t, err)
	defer sub.Close()

	mr.Publish(TelemetryChannel("V-1"), "not json")
	mr.Publish(TelemetryChannel("V-1"), `{"vehicle_id":"V-1"}`)
	require.NoError(t, ps.PublishTelemetry(ctx, models.TelemetryEvent{VehicleID: "V-1", Timestamp: time.Now().UTC()}))

	ev := recvEvent(t, sub.Events())
	require.Equal(t, "V-1", ev.VehicleID)
	require.False(t, ev.Timestamp.IsZero())
}

func TestPubSub_CloseEndsStreamWithoutError(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := NewPubSub(mr.Addr())

	sub, err := ps.Subscribe(context.Background(), "V-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, sub.Err())
}

func TestPubSub_SubscribeFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := NewPubSub(mr.Addr())
	mr.Close()

	_, err := ps.Subscribe(context.Background(), "V-1")
	require.ErrorIs(t, err, models.ErrSubscriptionFailed)
}

func TestPubSub_TransportErrorReported(t *testing.T) {
	mr := miniredis.RunT(t)
	ps := NewPubSub(mr.Addr())

	sub, err := ps.Subscribe(context.Background(), "V-1")
	require.NoError(t, err)
	defer sub.Close()

	mr.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.Error(t, sub.Err())
}
