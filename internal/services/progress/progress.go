// Package progress считает процент доставки по времени.
package progress

import (
	"math"
	"time"
)

// Source — откуда взято значение прогресса.
type Source string

const (
	SourceTime     Source = "time"
	SourceReported Source = "reported"
	SourceNone     Source = "none"
)

// Estimate возвращает прогресс доставки в [0, 100].
//
// Нет shippedAt или expectedArrival, либо expectedArrival <= shippedAt — 0
// ("нет оценки"). Иначе доля прошедшего времени, округлённая и зажатая в
// [0, 100]; now вне интервала допустим. Монотонна по now.
func Estimate(shippedAt, expectedArrival *time.Time, now time.Time) int {
	if shippedAt == nil || expectedArrival == nil {
		return 0
	}
	total := expectedArrival.Sub(*shippedAt)
	if total <= 0 {
		return 0
	}
	ratio := float64(now.Sub(*shippedAt)) / float64(total) * 100
	// зажимаем до int-конверсии: огромное отношение переполняет int
	ratio = math.Max(0, math.Min(100, ratio))
	return int(math.Floor(ratio + 0.5))
}

// Resolve: значение от сервера, если пришло, иначе оценка по времени.
func Resolve(reported *int, shippedAt, expectedArrival *time.Time, now time.Time) (int, Source) {
	if reported != nil {
		return clamp(*reported), SourceReported
	}
	if shippedAt == nil || expectedArrival == nil || !expectedArrival.After(*shippedAt) {
		return 0, SourceNone
	}
	return Estimate(shippedAt, expectedArrival, now), SourceTime
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
