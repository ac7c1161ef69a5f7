package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		TokenID:        "tok-1",
		Side:           SideBuy,
		LimitPrice:     0.45,
		TotalQuantity:  100,
		ChildOrderSize: 10,
		TickSize:       0.01,
		RateLimit:      2,
		Timeout:        time.Minute,
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.PriceImprovementTicks)
	assert.Equal(t, MinOrderSize, cfg.MinOrderSize)
	assert.Equal(t, 30*time.Second, cfg.StalenessWindow)
	assert.Equal(t, 5*time.Second, cfg.QuietPeriod)
	assert.Equal(t, "beat-top-of-book", cfg.Mode())
}

func TestConfigValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"bad side", func(c *Config) { c.Side = "LONG" }, ErrBadSide},
		{"bad tick", func(c *Config) { c.TickSize = 0.05 }, ErrBadTickSize},
		{"child exceeds total", func(c *Config) { c.ChildOrderSize = 200 }, ErrChildTooBig},
		{"off tick price", func(c *Config) { c.LimitPrice = 0.455 }, ErrOffTickPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.want)
		})
	}
}

func TestConfigValidateRejectsPriceBounds(t *testing.T) {
	cfg := validConfig()
	cfg.LimitPrice = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.LimitPrice = 1
	assert.Error(t, cfg.Validate())
}

func TestConfigFineTickPrice(t *testing.T) {
	cfg := validConfig()
	cfg.TickSize = 0.001
	cfg.LimitPrice = 0.455
	assert.NoError(t, cfg.Validate())
}

func TestConfigModeName(t *testing.T) {
	cfg := validConfig()
	cfg.MatchTopOfBook = true
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "match-top-of-book", cfg.Mode())

	cfg = validConfig()
	cfg.InsideLiquidity = true
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "inside-liquidity", cfg.Mode())
}

func TestConfigInsideLiquidityDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.InsideLiquidity = true
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.01, cfg.MaxSlippage)

	cfg = validConfig()
	cfg.InsideLiquidity = true
	cfg.MaxSlippage = -0.1
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.InsideLiquidity = true
	cfg.MatchTopOfBook = true
	assert.ErrorIs(t, cfg.Validate(), ErrModeConflict)
}
