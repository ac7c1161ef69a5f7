package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/ratelimit"
	"gitlab.com/crypto_project/core/execution_service/src/service/executor"
	"gitlab.com/crypto_project/core/execution_service/src/trading"
)

// SingleOrderParams is the one-shot mode: validate, place one order through
// the rate limiter, report the result and exit. No decision loop.
type SingleOrderParams struct {
	TokenID   string
	Side      string
	Price     float64
	Quantity  float64
	TickSize  float64
	RateLimit int
}

func (p *SingleOrderParams) validate() error {
	if p.TokenID == "" {
		return fmt.Errorf("token id is required")
	}
	if p.Side != executor.SideBuy && p.Side != executor.SideSell {
		return fmt.Errorf("side must be BUY or SELL, got %q", p.Side)
	}
	if p.Price <= 0 || p.Price >= 1 {
		return fmt.Errorf("price %v out of (0, 1)", p.Price)
	}
	if p.Quantity < executor.MinOrderSize {
		return fmt.Errorf("quantity %v below exchange minimum %v", p.Quantity, executor.MinOrderSize)
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 2
	}
	return nil
}

// PlaceSingleOrder submits one order and returns the exchange id.
func (es *ExecutionService) PlaceSingleOrder(ctx context.Context, params SingleOrderParams) (string, error) {
	if err := params.validate(); err != nil {
		return "", err
	}

	api := trading.InitTrading(ratelimit.New(params.RateLimit))
	response, err := api.CreateOrder(ctx, trading.CreateOrderRequest{
		TokenID: params.TokenID,
		Side:    params.Side,
		Price:   params.Price,
		Size:    params.Quantity,
	})
	if err != nil {
		return "", fmt.Errorf("order placement failed: %w", err)
	}
	es.log.Info("single order placed",
		zap.String("orderId", response.Data.OrderID),
		zap.Float64("price", params.Price),
		zap.Float64("quantity", params.Quantity),
	)
	return response.Data.OrderID, nil
}
