package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestEstimate_Table(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(10 * time.Second)

	require.Equal(t, 50, Estimate(&t0, &end, t0.Add(5*time.Second)))
	require.Equal(t, 0, Estimate(&t0, &end, t0.Add(-5*time.Second)))
	require.Equal(t, 100, Estimate(&t0, &end, t0.Add(50*time.Second)))
	require.Equal(t, 0, Estimate(nil, &end, t0))
	require.Equal(t, 0, Estimate(&t0, nil, t0))
	require.Equal(t, 0, Estimate(&t0, &t0, t0.Add(time.Hour)))
	require.Equal(t, 0, Estimate(&end, &t0, t0.Add(time.Hour)))
}

func TestEstimate_Rounding(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(1000 * time.Millisecond)

	require.Equal(t, 1, Estimate(&t0, &end, t0.Add(6*time.Millisecond)))
	require.Equal(t, 0, Estimate(&t0, &end, t0.Add(4*time.Millisecond)))
	require.Equal(t, 100, Estimate(&t0, &end, t0.Add(996*time.Millisecond)))
}

func TestEstimate_MonotonicAndIdempotent(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(2 * time.Hour)

	prev := -1
	for now := t0.Add(-time.Hour); now.Before(end.Add(time.Hour)); now = now.Add(7 * time.Minute) {
		p := Estimate(&t0, &end, now)
		require.GreaterOrEqual(t, p, prev)
		require.GreaterOrEqual(t, p, 0)
		require.LessOrEqual(t, p, 100)
		require.Equal(t, p, Estimate(&t0, &end, now))
		prev = p
	}

	// наносекундное окно и now на годы позже не должны переполняться
	tiny := t0.Add(time.Nanosecond)
	prev = -1
	for _, d := range []time.Duration{0, time.Nanosecond, time.Hour, 3 * 365 * 24 * time.Hour, 200 * 365 * 24 * time.Hour} {
		p := Estimate(&t0, &tiny, t0.Add(d))
		require.GreaterOrEqual(t, p, prev)
		require.LessOrEqual(t, p, 100)
		prev = p
	}
	require.Equal(t, 100, prev)
	require.Equal(t, 0, Estimate(&t0, &tiny, t0.Add(-200*365*24*time.Hour)))
}

func TestResolve_Precedence(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(10 * time.Second)
	now := t0.Add(5 * time.Second)

	p, src := Resolve(nil, &t0, &end, now)
	require.Equal(t, 50, p)
	require.Equal(t, SourceTime, src)

	p, src = Resolve(ptr(80), &t0, &end, now)
	require.Equal(t, 80, p)
	require.Equal(t, SourceReported, src)

	p, _ = Resolve(ptr(140), nil, nil, now)
	require.Equal(t, 100, p)

	p, src = Resolve(nil, nil, &end, now)
	require.Equal(t, 0, p)
	require.Equal(t, SourceNone, src)
}
