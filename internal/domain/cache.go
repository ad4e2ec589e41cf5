package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// CooldownStore shares the rate-limit cooldown deadline between processes.
type CooldownStore interface {
	SetCooldown(ctx context.Context, until time.Time) error
	GetCooldown(ctx context.Context) (time.Time, error)
}

// SignalBus provides pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
