package messages

import (
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDecodeTelemetry(t *testing.T) {
	ev, err := DecodeTelemetry([]byte(`{"vehicle_id":"v1","ts":"2026-03-01T10:00:00Z","lat":28.4,"lon":76.9,"speed_kmph":42.5,"fuel_pct":61}`))
	require.NoError(t, err)
	require.Equal(t, "v1", ev.VehicleID)
	require.Equal(t, 42.5, ev.SpeedKmph)
	require.NotNil(t, ev.FuelPct)
	require.Nil(t, ev.CargoTemp)
	require.True(t, ev.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeTelemetry_Invalid(t *testing.T) {
	_, err := DecodeTelemetry([]byte(`not-json`))
	require.Error(t, err)

	_, err = DecodeTelemetry([]byte(`{"ts":"2026-03-01T10:00:00Z"}`))
	require.Error(t, err)

	_, err = DecodeTelemetry([]byte(`{"vehicle_id":"v1"}`))
	require.Error(t, err)
}

func TestEncodeTelemetry_RoundTripKeepsTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	b, err := EncodeTelemetry(models.TelemetryEvent{VehicleID: "v1", Timestamp: ts, Lat: 1, Lon: 2})
	require.NoError(t, err)
	require.Contains(t, string(b), `"vehicle_id":"v1"`)

	ev, err := DecodeTelemetry(b)
	require.NoError(t, err)
	require.True(t, ev.Timestamp.Equal(ts))
}
