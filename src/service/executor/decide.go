package executor

import (
	"math"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

func round(num float64) int {
	return int(num + math.Copysign(0.5, num))
}

func toFixed(num float64, precision int) float64 {
	output := math.Pow(10, float64(precision))
	return float64(round(num*output)) / output
}

func tickPrecision(tick float64) int {
	if tick == 0.001 {
		return 3
	}
	return 2
}

// desiredPrice computes the price the working child order should rest at:
// the best same-side price, improved by the configured number of ticks in
// beat mode or matched exactly in match mode, capped at the limit so the
// order never crosses it. When the top of book is the run's own resting
// order the resting price is kept, otherwise the run would chase itself.
func desiredPrice(cfg *Config, book *interfaces.BookSnapshot, restingPrice float64) float64 {
	tick := cfg.TickSize
	improvement := float64(cfg.PriceImprovementTicks) * tick

	var target float64
	switch cfg.Side {
	case SideBuy:
		top := book.BestBid
		if restingPrice > 0 && math.Abs(top-restingPrice) <= tick+priceEpsilon {
			return restingPrice
		}
		if cfg.MatchTopOfBook {
			target = top
		} else {
			target = top + improvement
		}
		target = math.Min(target, cfg.LimitPrice)
	case SideSell:
		top := book.BestAsk
		if restingPrice > 0 && math.Abs(top-restingPrice) <= tick+priceEpsilon {
			return restingPrice
		}
		if cfg.MatchTopOfBook {
			target = top
		} else {
			target = top - improvement
		}
		target = math.Max(target, cfg.LimitPrice)
	}
	return toFixed(target, tickPrecision(tick))
}

// takePrice computes the price a taker child should cross the spread at: the
// best opposite-side price padded by MaxSlippage, clamped to the limit so a
// moving book can never execute the order beyond it. The second return is
// false when the opposite top already sits outside the limit and there is
// nothing to take.
func takePrice(cfg *Config, book *interfaces.BookSnapshot) (float64, bool) {
	var target float64
	switch cfg.Side {
	case SideBuy:
		if book.BestAsk > cfg.LimitPrice+priceEpsilon {
			return 0, false
		}
		target = math.Min(book.BestAsk*(1+cfg.MaxSlippage), cfg.LimitPrice)
	case SideSell:
		if book.BestBid < cfg.LimitPrice-priceEpsilon {
			return 0, false
		}
		target = math.Max(book.BestBid*(1-cfg.MaxSlippage), cfg.LimitPrice)
	default:
		return 0, false
	}
	return toFixed(target, tickPrecision(cfg.TickSize)), true
}

// displayedSize is the size resting at the opposite-side top, the liquidity
// a taker child would consume.
func displayedSize(cfg *Config, book *interfaces.BookSnapshot) float64 {
	if cfg.Side == SideBuy {
		return book.AskSize
	}
	return book.BidSize
}

// priceWithinLimit reports whether a price respects the configured cap.
func priceWithinLimit(cfg *Config, price float64) bool {
	if cfg.Side == SideBuy {
		return price <= cfg.LimitPrice+priceEpsilon
	}
	return price >= cfg.LimitPrice-priceEpsilon
}

// desiredSize picks the next child order size: the configured child size,
// the whole remainder when it is small, and a merged final order when a
// plain child would strand a remainder below the exchange minimum. Zero
// means "do not place".
func desiredSize(cfg *Config, remaining float64) float64 {
	if remaining < cfg.MinOrderSize {
		return 0
	}
	if remaining <= cfg.ChildOrderSize {
		return remaining
	}
	leftover := remaining - cfg.ChildOrderSize
	if leftover > 0 && leftover < cfg.MinOrderSize {
		return remaining
	}
	return cfg.ChildOrderSize
}

// needsReprice reports whether a resting order is far enough from the
// desired price to be worth a cancel/replace cycle. Tolerance is one tick.
func needsReprice(cfg *Config, restingPrice, desired float64) bool {
	return math.Abs(restingPrice-desired) > cfg.TickSize+priceEpsilon
}
