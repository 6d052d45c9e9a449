package tracking

import "time"

// BackoffConfig — задержки повторной подписки после провала.
type BackoffConfig struct {
	Retry1 time.Duration // default: 1 second
	Retry2 time.Duration // default: 5 seconds
	Retry3 time.Duration // default: 15 seconds
	Retry4 time.Duration // default: 30 seconds
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Retry1: 1 * time.Second,
		Retry2: 5 * time.Second,
		Retry3: 15 * time.Second,
		Retry4: 30 * time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Retry1 <= 0 {
		cfg.Retry1 = def.Retry1
	}
	if cfg.Retry2 <= 0 {
		cfg.Retry2 = def.Retry2
	}
	if cfg.Retry3 <= 0 {
		cfg.Retry3 = def.Retry3
	}
	if cfg.Retry4 <= 0 {
		cfg.Retry4 = def.Retry4
	}
	return &Backoff{cfg: cfg}
}

// Delay для failures подряд неудачных попыток (failures >= 1).
func (b *Backoff) Delay(failures int32) time.Duration {
	switch {
	case failures <= 1:
		return b.cfg.Retry1
	case failures == 2:
		return b.cfg.Retry2
	case failures == 3:
		return b.cfg.Retry3
	default:
		return b.cfg.Retry4
	}
}
