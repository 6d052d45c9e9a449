package telemetry

import (
	"context"

	"github.com/BearBump/ShipTrack/internal/models"
)

// Snapshotter — разовый запрос "последняя точка машины".
// Отсутствие строки — (nil, nil), а не ошибка.
type Snapshotter interface {
	LatestTelemetry(ctx context.Context, vehicleID string) (*models.TelemetryEvent, error)
}

// Subscriber открывает live-подписку, отфильтрованную по машине.
// Ошибка установления канала оборачивает models.ErrSubscriptionFailed.
type Subscriber interface {
	Subscribe(ctx context.Context, vehicleID string) (Subscription, error)
}

// Subscription — отменяемый поток событий.
//
// Events закрывается, когда транспорт завершился; после этого Err
// возвращает причину (nil, если поток закрыт через Close).
// Доставка at-least-once: возможны дубли и нарушение порядка.
type Subscription interface {
	Events() <-chan models.TelemetryEvent
	Err() error
	Close() error
}

type Source interface {
	Snapshotter
	Subscriber
}

type channel struct {
	Snapshotter
	Subscriber
}

// NewChannel собирает Source из хранилища (снимок) и транспорта (live).
func NewChannel(snap Snapshotter, sub Subscriber) Source {
	return channel{Snapshotter: snap, Subscriber: sub}
}
