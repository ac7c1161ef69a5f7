package service

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/ratelimit"
	"gitlab.com/crypto_project/core/execution_service/src/service/executor"
	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
	"gitlab.com/crypto_project/core/execution_service/src/sources/mongodb"
	"gitlab.com/crypto_project/core/execution_service/src/sources/polymarket"
	"gitlab.com/crypto_project/core/execution_service/src/sources/redis"
	statsd_client "gitlab.com/crypto_project/core/execution_service/src/statsd"
	"gitlab.com/crypto_project/core/execution_service/src/trading"
)

// ExecutionService owns one run end to end: the distributed run lock, the
// market and user feeds, the executor and the event sink. It is the single
// point the command fronts (HTTP, stdin) talk to.
type ExecutionService struct {
	Executor *executor.Executor

	marketLoop interfaces.IDataFeed
	userLoop   interfaces.IUserFeed
	sink       interfaces.IEventSink
	runMutex   releaser

	log *zap.Logger
}

type releaser interface {
	Lock() error
	Unlock() (bool, error)
}

var executionService *ExecutionService
var serviceOnce sync.Once

func GetExecutionService() *ExecutionService {
	serviceOnce.Do(func() {
		logger, _ := newLogger()
		executionService = &ExecutionService{log: logger}
	})
	return executionService
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("LOCAL") == "true" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Init wires the run's dependencies and starts the decision loop. It blocks
// until the run reaches a terminal state and returns the executor's verdict.
func (es *ExecutionService) Init(ctx context.Context, cfg *executor.Config, wg *sync.WaitGroup) error {
	defer wg.Done()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}

	// One engine instance per account and token. Another instance holding
	// the lock would trade against this run's own orders.
	if os.Getenv("REDIS_HOST") != "" {
		account := os.Getenv("POLY_API_KEY")
		if account == "" {
			account = "default"
		}
		mutex := redis.NewRunMutex(account, cfg.TokenID)
		if err := mutex.Lock(); err != nil {
			return fmt.Errorf("run lock for token %s not acquired: %w", cfg.TokenID, err)
		}
		es.runMutex = mutex
		defer func() {
			if _, err := mutex.Unlock(); err != nil {
				es.log.Warn("run lock release failed", zap.Error(err))
			}
		}()
	}

	statsd := &statsd_client.StatsdClient{}
	statsd.Init()

	var stateMgmt interfaces.IStateMgmt = &noopStateMgmt{}
	if os.Getenv("MONGODB") != "" {
		stateMgmt = mongodb.NewStateMgmt()
	}

	es.sink = &noopEventSink{}
	// One limiter for the run; the exchange client acquires it before every
	// HTTP attempt, so retries count against the same budget.
	limiter := ratelimit.New(cfg.RateLimit)
	api := trading.InitTrading(limiter)
	es.Executor = executor.NewExecutor(cfg, api, stateMgmt, es.sink, statsd, limiter, es.log)
	if os.Getenv("REDIS_HOST") != "" {
		es.sink = redis.NewEventPublisher(es.Executor.RunID.Hex(), es.log)
		es.Executor.EventSink = es.sink
	}
	defer es.sink.Close()

	es.marketLoop = polymarket.NewMarketLoop(
		[]string{cfg.TokenID},
		cfg.StalenessWindow,
		es.Executor.EnqueueBook,
		es.Executor.EnqueueFeedState,
		es.log,
	)
	es.userLoop = polymarket.NewUserLoop(
		[]string{cfg.TokenID},
		es.Executor.EnqueueOrderUpdate,
		es.Executor.EnqueueFill,
		es.Executor.EnqueueFeedState,
		es.log,
	)
	if err := es.marketLoop.Start(ctx); err != nil {
		return fmt.Errorf("market feed start: %w", err)
	}
	defer es.marketLoop.Stop()
	if err := es.userLoop.Start(ctx); err != nil {
		return fmt.Errorf("user feed start: %w", err)
	}
	defer es.userLoop.Stop()

	return es.Executor.Run(ctx)
}

// Status serves the latest snapshot; safe before and after the run.
func (es *ExecutionService) Status() (executor.StatusSnapshot, error) {
	if es.Executor == nil {
		return executor.StatusSnapshot{}, fmt.Errorf("no run active")
	}
	return es.Executor.Status(), nil
}

func (es *ExecutionService) Stop() error {
	return es.submit(executor.Command{Kind: executor.CommandStop})
}

func (es *ExecutionService) UpdatePrice(price float64) error {
	return es.submit(executor.Command{Kind: executor.CommandUpdatePrice, Price: price})
}

func (es *ExecutionService) UpdateQty(quantity float64) error {
	return es.submit(executor.Command{Kind: executor.CommandUpdateQty, Quantity: quantity})
}

func (es *ExecutionService) CancelAll() error {
	return es.submit(executor.Command{Kind: executor.CommandCancelAll})
}

func (es *ExecutionService) ExtendTimeout(seconds int64) error {
	return es.submit(executor.Command{Kind: executor.CommandExtendTimeout, Seconds: seconds})
}

func (es *ExecutionService) submit(cmd executor.Command) error {
	if es.Executor == nil {
		return fmt.Errorf("no run active")
	}
	return es.Executor.SubmitCommand(cmd)
}
