package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// ScoreCache implements domain.TraderScorer over a Redis hash per trader
// ("score:{address}" with fields "multiplier" and "ts"). An external scoring
// job writes the hash; the engine only reads it. A trader without a score is
// neutral (1.0) and every score is clamped to [lo, hi].
type ScoreCache struct {
	c        *Client
	lo, hi   float64
	maxAge   time.Duration
	now      func() time.Time
}

// NewScoreCache creates a ScoreCache. maxAge of zero accepts scores of any
// age.
func NewScoreCache(c *Client, lo, hi float64, maxAge time.Duration) *ScoreCache {
	return &ScoreCache{c: c, lo: lo, hi: hi, maxAge: maxAge, now: time.Now}
}

func (sc *ScoreCache) scoreKey(trader string) string {
	return sc.c.key("score:" + strings.ToLower(trader))
}

// SetScore stores a multiplier for trader.
func (sc *ScoreCache) SetScore(ctx context.Context, trader string, multiplier float64) error {
	fields := map[string]any{
		"multiplier": strconv.FormatFloat(multiplier, 'f', -1, 64),
		"ts":         strconv.FormatInt(sc.now().UnixNano(), 10),
	}
	if err := sc.c.rdb.HSet(ctx, sc.scoreKey(trader), fields).Err(); err != nil {
		return fmt.Errorf("redis: set score %s: %w", trader, err)
	}
	return nil
}

// DynamicMultiplier returns the clamped multiplier for trader, or 1.0 when no
// fresh score exists.
func (sc *ScoreCache) DynamicMultiplier(ctx context.Context, trader string) (float64, error) {
	vals, err := sc.c.rdb.HGetAll(ctx, sc.scoreKey(trader)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 1.0, fmt.Errorf("redis: get score %s: %w", trader, err)
	}
	raw, ok := vals["multiplier"]
	if !ok {
		return 1.0, nil
	}
	m, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1.0, fmt.Errorf("redis: parse score %s: %w", trader, err)
	}

	if sc.maxAge > 0 {
		tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
		if err != nil || sc.now().Sub(time.Unix(0, tsNano)) > sc.maxAge {
			return 1.0, nil
		}
	}

	switch {
	case m < sc.lo:
		m = sc.lo
	case sc.hi > 0 && m > sc.hi:
		m = sc.hi
	}
	return m, nil
}

var _ domain.TraderScorer = (*ScoreCache)(nil)
