package kafka

import (
	"context"

	"github.com/BearBump/ShipTrack/internal/broker/messages"
	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

func newProducerWithWriter(w messageWriter) *Producer {
	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// TelemetryPublisher пишет телеметрию в топик с ключом vehicle_id:
// события одной машины попадают в одну партицию.
type TelemetryPublisher struct {
	p     *Producer
	topic string
}

func NewTelemetryPublisher(p *Producer, topic string) *TelemetryPublisher {
	return &TelemetryPublisher{p: p, topic: topic}
}

func (t *TelemetryPublisher) PublishTelemetry(ctx context.Context, ev models.TelemetryEvent) error {
	b, err := messages.EncodeTelemetry(ev)
	if err != nil {
		return err
	}
	return t.p.Publish(ctx, t.topic, []byte(ev.VehicleID), b)
}
