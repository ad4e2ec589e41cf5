package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// extendLua stores ARGV[1] (unix millis) only when it is later than the
// current value, keeping the cooldown monotonic across processes.
const extendLua = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local nxt = tonumber(ARGV[1])
if nxt > cur then
    redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
    return 1
end
return 0
`

// CooldownStore implements domain.CooldownStore. The deadline is kept as
// unix milliseconds and expires on its own shortly after it passes.
type CooldownStore struct {
	c        *Client
	extendSc *redis.Script
	now      func() time.Time
}

// NewCooldownStore creates a CooldownStore backed by the given Client.
func NewCooldownStore(c *Client) *CooldownStore {
	return &CooldownStore{
		c:        c,
		extendSc: redis.NewScript(extendLua),
		now:      time.Now,
	}
}

func (s *CooldownStore) cooldownKey() string {
	return s.c.key("cooldown:until")
}

// SetCooldown publishes until unless a later deadline is already stored.
func (s *CooldownStore) SetCooldown(ctx context.Context, until time.Time) error {
	ttl := until.Sub(s.now()) + time.Second
	if ttl <= time.Second {
		return nil
	}
	err := s.extendSc.Run(ctx, s.c.rdb, []string{s.cooldownKey()},
		until.UnixMilli(), ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis: set cooldown: %w", err)
	}
	return nil
}

// GetCooldown returns the shared deadline or domain.ErrNotFound.
func (s *CooldownStore) GetCooldown(ctx context.Context) (time.Time, error) {
	raw, err := s.c.rdb.Get(ctx, s.cooldownKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("redis: get cooldown: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: parse cooldown %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

var _ domain.CooldownStore = (*CooldownStore)(nil)
