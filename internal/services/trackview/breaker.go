package trackview

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipTrack/internal/metrics"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// MinRequests и FailureRatio — условие размыкания.
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "logistics-store",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerRepository — Repository за circuit breaker. NotFound считается
// успешным ответом хранилища и breaker не размыкает.
type BreakerRepository struct {
	next Repository
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerRepository(next Repository, cfg BreakerConfig) *BreakerRepository {
	def := DefaultBreakerConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}

	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("store circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerRepository{next: next, cb: cb}
}

func (b *BreakerRepository) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerRepository) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	return call(b, func() (*models.Shipment, error) { return b.next.GetShipment(ctx, id) })
}

func (b *BreakerRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	return call(b, func() (*models.Order, error) { return b.next.GetOrder(ctx, id) })
}

func (b *BreakerRepository) GetWarehouse(ctx context.Context, id string) (*models.Warehouse, error) {
	return call(b, func() (*models.Warehouse, error) { return b.next.GetWarehouse(ctx, id) })
}

func (b *BreakerRepository) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	return call(b, func() (*models.Customer, error) { return b.next.GetCustomer(ctx, id) })
}

func (b *BreakerRepository) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return call(b, func() (*models.Vehicle, error) { return b.next.GetVehicle(ctx, id) })
}

func call[T any](b *BreakerRepository, fn func() (*T, error)) (*T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errors.Wrap(err, "logistics store")
		}
		return nil, err
	}
	typed, ok := res.(*T)
	if !ok {
		return nil, errors.Errorf("circuit breaker: unexpected result type %T", res)
	}
	return typed, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
