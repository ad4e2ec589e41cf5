package sizing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubScorer struct {
	mult float64
	err  error
}

func (s stubScorer) DynamicMultiplier(context.Context, string) (float64, error) {
	return s.mult, s.err
}

func baseConfig() Config {
	return Config{
		Strategy:          CopyStrategy{CopyRatio: 1},
		DefaultMultiplier: 1,
		MinOrderSizeUSD:   1,
	}
}

func newSizer(cfg Config, scorer stubScorer, withScorer bool) *Sizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if !withScorer {
		return NewSizer(cfg, nil, logger)
	}
	return NewSizer(cfg, scorer, logger)
}

func TestSize_MirrorsTraderNotional(t *testing.T) {
	s := newSizer(baseConfig(), stubScorer{}, false)

	d := s.Size(context.Background(), Input{Trader: "0xabc", TraderNotional: 100, Balance: 1000})
	assert.InDelta(t, 100, d.FinalAmount, 1e-9)
	assert.False(t, d.BelowMinimum)
	assert.Equal(t, 1.0, d.Multiplier)
	assert.NotEmpty(t, d.Reasoning)
}

func TestSize_MinimumPolicy(t *testing.T) {
	tests := []struct {
		name      string
		notional  float64
		balance   float64
		want      float64
		wantBelow bool
	}{
		{"at minimum", 1, 100, 1, false},
		{"just under half", 0.49, 100, 0, true},
		{"exactly half", 0.5, 100, 1, false},
		{"near miss", 0.9, 100, 1, false},
		{"near miss but balance short", 0.9, 0.95, 0, true},
		{"zero", 0, 100, 0, false},
	}
	s := newSizer(baseConfig(), stubScorer{}, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := s.Size(context.Background(), Input{TraderNotional: tt.notional, Balance: tt.balance})
			assert.InDelta(t, tt.want, d.FinalAmount, 1e-9)
			assert.Equal(t, tt.wantBelow, d.BelowMinimum)
		})
	}
}

func TestSize_WindDown(t *testing.T) {
	cfg := baseConfig()
	cfg.WindDown = true
	s := newSizer(cfg, stubScorer{mult: 2}, true)

	d := s.Size(context.Background(), Input{TraderNotional: 500, Balance: 1000})
	assert.Zero(t, d.FinalAmount)
	assert.Contains(t, d.Reasoning, "wind-down")
}

func TestSize_TraderMultiplierOverride(t *testing.T) {
	cfg := baseConfig()
	cfg.DefaultMultiplier = 0.5
	cfg.TraderMultipliers = map[string]float64{
		"0x52908400098527886E0F7030069857D2E4169EE7": 2,
	}
	s := newSizer(cfg, stubScorer{}, false)

	d := s.Size(context.Background(), Input{
		Trader:         "0x52908400098527886e0f7030069857d2e4169ee7",
		TraderNotional: 10,
		Balance:        1000,
	})
	assert.InDelta(t, 20, d.FinalAmount, 1e-9)
	assert.Equal(t, 2.0, d.Multiplier)

	d = s.Size(context.Background(), Input{Trader: "0xother", TraderNotional: 10, Balance: 1000})
	assert.InDelta(t, 5, d.FinalAmount, 1e-9)
}

func TestSize_Clamps(t *testing.T) {
	cfg := baseConfig()
	cfg.Strategy = CopyStrategy{CopyRatio: 0.5, MaxOrderSizeUSD: 40, MaxPositionSizeUSD: 100}
	s := newSizer(cfg, stubScorer{}, false)
	ctx := context.Background()

	d := s.Size(ctx, Input{TraderNotional: 200, Balance: 1000})
	assert.InDelta(t, 40, d.FinalAmount, 1e-9, "max order")

	d = s.Size(ctx, Input{TraderNotional: 60, Balance: 1000, PositionValue: 80})
	assert.InDelta(t, 20, d.FinalAmount, 1e-9, "position room")

	d = s.Size(ctx, Input{TraderNotional: 60, Balance: 1000, PositionValue: 120})
	assert.Zero(t, d.FinalAmount, "position full")

	d = s.Size(ctx, Input{TraderNotional: 60, Balance: 12})
	assert.InDelta(t, 12, d.FinalAmount, 1e-9, "balance")
}

func TestSize_ScoreMultiplier(t *testing.T) {
	ctx := context.Background()

	s := newSizer(baseConfig(), stubScorer{mult: 1.5}, true)
	d := s.Size(ctx, Input{TraderNotional: 100, Balance: 1000})
	assert.InDelta(t, 150, d.FinalAmount, 1e-9)
	assert.Contains(t, d.Reasoning, "score multiplier")

	d = s.Size(ctx, Input{TraderNotional: 100, Balance: 120})
	assert.InDelta(t, 120, d.FinalAmount, 1e-9)

	s = newSizer(baseConfig(), stubScorer{mult: 1}, true)
	d = s.Size(ctx, Input{TraderNotional: 100, Balance: 1000})
	assert.InDelta(t, 100, d.FinalAmount, 1e-9)
	assert.NotContains(t, d.Reasoning, "score multiplier")

	s = newSizer(baseConfig(), stubScorer{err: errors.New("redis down")}, true)
	d = s.Size(ctx, Input{TraderNotional: 100, Balance: 1000})
	assert.InDelta(t, 100, d.FinalAmount, 1e-9)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		"0x52908400098527886e0f7030069857d2e4169ee7",
		NormalizeAddress(" 0x52908400098527886E0F7030069857D2E4169EE7 "),
	)
	assert.Equal(t, "not-an-address", NormalizeAddress("Not-An-Address"))
}
