package executor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// MinOrderSize is the exchange-wide minimum child order size in shares.
const MinOrderSize = 5.0

const priceEpsilon = 1e-9

// Config holds the parameters of one execution run. It is immutable for the
// duration of a run except for LimitPrice and TotalQuantity, which may be
// replaced by update_price / update_qty commands; those mutations happen
// inside the decision loop only.
type Config struct {
	TokenID        string
	Side           string
	LimitPrice     float64
	TotalQuantity  float64
	ChildOrderSize float64
	TickSize       float64
	RateLimit      int
	Timeout        time.Duration

	// MatchTopOfBook places at the current best same-side price instead of
	// improving it by PriceImprovementTicks.
	MatchTopOfBook        bool
	PriceImprovementTicks int

	// InsideLiquidity takes displayed opposite-side liquidity whenever it
	// sits within the limit price, instead of resting at the top of book.
	// Mutually exclusive with MatchTopOfBook. MaxSlippage pads the taker
	// price against the book moving between snapshot and submission.
	InsideLiquidity bool
	MaxSlippage     float64

	NonInteractive bool

	MinOrderSize    float64
	StalenessWindow time.Duration
	QuietPeriod     time.Duration
}

var (
	ErrBadTickSize  = errors.New("tick size must be 0.01 or 0.001")
	ErrBadSide      = errors.New("side must be BUY or SELL")
	ErrChildTooBig  = errors.New("child order size exceeds total quantity")
	ErrOffTickPrice = errors.New("limit price is not a multiple of the tick size")
	ErrModeConflict = errors.New("inside-liquidity and match-top-of-book modes are mutually exclusive")
)

// Validate rejects a malformed config before any run state is created.
func (c *Config) Validate() error {
	if c.TokenID == "" {
		return errors.New("token id is required")
	}
	if c.Side != SideBuy && c.Side != SideSell {
		return fmt.Errorf("%w, got %q", ErrBadSide, c.Side)
	}
	if c.TickSize != 0.01 && c.TickSize != 0.001 {
		return fmt.Errorf("%w, got %v", ErrBadTickSize, c.TickSize)
	}
	if c.LimitPrice <= 0 || c.LimitPrice >= 1 {
		return fmt.Errorf("limit price %v out of (0, 1)", c.LimitPrice)
	}
	if !onTick(c.LimitPrice, c.TickSize) {
		return fmt.Errorf("%w: %v", ErrOffTickPrice, c.LimitPrice)
	}
	if c.TotalQuantity <= 0 {
		return fmt.Errorf("total quantity %v must be positive", c.TotalQuantity)
	}
	if c.ChildOrderSize <= 0 {
		return fmt.Errorf("child order size %v must be positive", c.ChildOrderSize)
	}
	if c.ChildOrderSize > c.TotalQuantity {
		return fmt.Errorf("%w: %v > %v", ErrChildTooBig, c.ChildOrderSize, c.TotalQuantity)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate limit %v must be positive", c.RateLimit)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.InsideLiquidity && c.MatchTopOfBook {
		return ErrModeConflict
	}
	if c.MaxSlippage < 0 {
		return fmt.Errorf("max slippage %v must not be negative", c.MaxSlippage)
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.PriceImprovementTicks == 0 {
		c.PriceImprovementTicks = 1
	}
	if c.MinOrderSize == 0 {
		c.MinOrderSize = MinOrderSize
	}
	if c.StalenessWindow == 0 {
		c.StalenessWindow = 30 * time.Second
	}
	if c.QuietPeriod == 0 {
		c.QuietPeriod = 5 * time.Second
	}
	if c.InsideLiquidity && c.MaxSlippage == 0 {
		c.MaxSlippage = 0.01
	}
}

// Mode returns the pricing mode name used in status and persistence.
func (c *Config) Mode() string {
	if c.InsideLiquidity {
		return "inside-liquidity"
	}
	if c.MatchTopOfBook {
		return "match-top-of-book"
	}
	return "beat-top-of-book"
}

func onTick(price, tick float64) bool {
	steps := price / tick
	return math.Abs(steps-math.Round(steps)) < 1e-6
}
