package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipTrack/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestNewProducer_NotNil() {
	p := NewProducer([]string{"localhost:0"})
	s.Require().NotNil(p)
}

func (s *ProducerSuite) TestPublishTelemetry_UsesTopicAndKey() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			return len(msgs) == 1 && msgs[0].Topic == "vehicle.telemetry" && string(msgs[0].Key) == "veh-1"
		})).
		Return(nil).
		Once()

	tp := NewTelemetryPublisher(s.p, "vehicle.telemetry")
	s.Require().NoError(tp.PublishTelemetry(context.Background(), models.TelemetryEvent{VehicleID: "veh-1", Timestamp: time.Now().UTC()}))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublishTelemetry_ErrorWrapped() {
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available")).Once()

	tp := NewTelemetryPublisher(s.p, "vehicle.telemetry")
	err := tp.PublishTelemetry(context.Background(), models.TelemetryEvent{VehicleID: "veh-1", Timestamp: time.Now().UTC()})
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "kafka publish")
}

func (s *ProducerSuite) TestPublish_OK() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			return msgs[0].Topic == "vehicle.telemetry" && string(msgs[0].Key) == "veh-1" && string(msgs[0].Value) == "{}"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "vehicle.telemetry", []byte("veh-1"), []byte("{}")))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("boom")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "vehicle.telemetry", []byte("veh-1"), []byte("{}"))
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
