package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/server"
	"gitlab.com/crypto_project/core/execution_service/src/service"
	"gitlab.com/crypto_project/core/execution_service/src/service/executor"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file loaded")
	}

	var (
		tokenID        = flag.String("token-id", "", "token (asset) id to execute on")
		limitPrice     = flag.Float64("limit-price", 0, "worst acceptable price in (0, 1)")
		totalQuantity  = flag.Float64("total-quantity", 0, "target quantity in shares")
		childOrderSize = flag.Float64("child-order-size", 0, "slice size per child order")
		tickSize       = flag.Float64("tick-size", 0.01, "market tick size (0.01 or 0.001)")
		side           = flag.String("side", "BUY", "BUY or SELL")
		timeout        = flag.Duration("timeout", 5*time.Minute, "run timeout")
		rateLimit      = flag.Int("rate-limit", 2, "max exchange calls per second")
		matchTop       = flag.Bool("match-top-of-book", false, "match the best price instead of beating it")
		insideLiq      = flag.Bool("inside-liquidity", false, "take opposite-side liquidity within the limit instead of resting")
		maxSlippage    = flag.Float64("max-slippage", 0.01, "taker price pad in inside-liquidity mode")
		nonInteractive = flag.Bool("non-interactive", false, "disable the stdin command loop")
		singleOrder    = flag.Bool("single-order", false, "place one order and exit")
		price          = flag.Float64("price", 0, "price for single order mode")
		quantity       = flag.Float64("quantity", 0, "quantity for single order mode")
		listen         = flag.String("listen", ":8080", "control API listen address")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	if os.Getenv("LOCAL") == "true" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	es := service.GetExecutionService()

	// SIGINT/SIGTERM cancels the run context; the executor then stops and
	// sweeps its open orders before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *singleOrder {
		orderID, err := es.PlaceSingleOrder(ctx, service.SingleOrderParams{
			TokenID:   *tokenID,
			Side:      *side,
			Price:     *price,
			Quantity:  *quantity,
			TickSize:  *tickSize,
			RateLimit: *rateLimit,
		})
		if err != nil {
			logger.Error("single order failed", zap.Error(err))
			os.Exit(1)
		}
		fmt.Println("order placed:", orderID)
		return
	}

	cfg := &executor.Config{
		TokenID:         *tokenID,
		Side:            *side,
		LimitPrice:      *limitPrice,
		TotalQuantity:   *totalQuantity,
		ChildOrderSize:  *childOrderSize,
		TickSize:        *tickSize,
		RateLimit:       *rateLimit,
		Timeout:         *timeout,
		MatchTopOfBook:  *matchTop,
		InsideLiquidity: *insideLiq,
		MaxSlippage:     *maxSlippage,
		NonInteractive:  *nonInteractive,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go server.RunServer(*listen, &wg)

	wg.Add(1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- es.Init(ctx, cfg, &wg)
	}()

	if !*nonInteractive {
		go es.RunInteractive(os.Stdin, os.Stdout)
	}

	if err := <-runErr; err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}
