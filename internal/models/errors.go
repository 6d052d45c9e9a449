package models

import "github.com/pkg/errors"

// Таксономия ошибок трекинга. Сравнивать через errors.Is:
// слои хранения и транспорта оборачивают их через errors.Wrap.
var (
	// ErrNotFound — отгрузка/транспорт по id не найдены. Фатально для запрошенного вида.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTarget — пустой или некорректный id. Ошибка вызывающего.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrSubscriptionFailed — транспорт не смог открыть live-канал.
	// Не фатально: трекинг деградирует до статического снимка.
	ErrSubscriptionFailed = errors.New("subscription failed")
	// ErrPartialJoin — не удалось разрешить origin/destination/customer.
	// Не фатально: поле остаётся пустым ("N/A").
	ErrPartialJoin = errors.New("partial join failure")
)
