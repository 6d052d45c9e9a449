package rediscache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/BearBump/ShipTrack/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const pubSubBuffer = 64

// TelemetryChannel — канал pub/sub для машины.
func TelemetryChannel(vehicleID string) string {
	return "telemetry:" + vehicleID
}

// PubSub — live-транспорт телеметрии через Redis pub/sub.
type PubSub struct {
	c *redis.Client
}

func NewPubSub(addr string) *PubSub {
	return NewPubSubFromClient(NewClient(addr))
}

func NewPubSubFromClient(c *redis.Client) *PubSub {
	return &PubSub{c: c}
}

// Close закрывает клиент; при общем клиенте (NewPubSubFromClient) не вызывать.
func (p *PubSub) Close() error {
	return p.c.Close()
}

func (p *PubSub) PublishTelemetry(ctx context.Context, ev models.TelemetryEvent) error {
	b, err := messages.EncodeTelemetry(ev)
	if err != nil {
		return err
	}
	if err := p.c.Publish(ctx, TelemetryChannel(ev.VehicleID), b).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// Subscribe подписывается на канал машины и ждёт подтверждения от сервера.
func (p *PubSub) Subscribe(ctx context.Context, vehicleID string) (telemetry.Subscription, error) {
	ps := p.c.Subscribe(ctx, TelemetryChannel(vehicleID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(models.ErrSubscriptionFailed, "redis subscribe %s: %v", vehicleID, err)
	}

	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &pubSubSubscription{
		ps:     ps,
		ch:     make(chan models.TelemetryEvent, pubSubBuffer),
		ctx:    pctx,
		cancel: cancel,
	}
	go s.pump(vehicleID)
	return s, nil
}

type pubSubSubscription struct {
	ps     *redis.PubSub
	ch     chan models.TelemetryEvent
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *pubSubSubscription) Events() <-chan models.TelemetryEvent { return s.ch }

func (s *pubSubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pubSubSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
	})
	return errors.Wrap(err, "redis unsubscribe")
}

func (s *pubSubSubscription) pump(vehicleID string) {
	defer close(s.ch)

	for {
		msg, err := s.ps.ReceiveMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.mu.Lock()
				s.err = errors.Wrap(err, "redis receive")
				s.mu.Unlock()
			}
			return
		}

		ev, err := messages.DecodeTelemetry([]byte(msg.Payload))
		if err != nil {
			slog.Warn("skip malformed telemetry message", "vehicle_id", vehicleID, "error", err.Error())
			continue
		}

		select {
		case s.ch <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}
