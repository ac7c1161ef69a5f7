package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/ratelimit"
	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
	"gitlab.com/crypto_project/core/execution_service/src/sources/mongodb/models"
	"gitlab.com/crypto_project/core/execution_service/src/trading"
)

// Run states.
const (
	Working   = "Working"
	Completed = "Completed"
	Stopped   = "Stopped"
	Errored   = "Errored"
)

// Run state triggers. Every trigger carries a human-readable reason.
const (
	TriggerTargetReached = "TargetReached"
	TriggerQuiescence    = "Quiescence"
	TriggerStop          = "Stop"
	TriggerTimeout       = "Timeout"
	TriggerFatal         = "Fatal"
)

const (
	maxConsecutiveFailures = 3
	cancelGrace            = 10 * time.Second
	eventBuffer            = 1024
)

// ErrRunFinished is returned to command submitters once the run reached a
// terminal state.
var ErrRunFinished = errors.New("execution run already finished")

// Executor drives one execution run. A single goroutine (Run) owns every
// piece of mutable state; feeds and command fronts talk to it exclusively
// through the Enqueue methods, so no ordering between an order update and
// the fill that raced it is ever lost.
type Executor struct {
	Config      *Config
	State       *stateless.StateMachine
	ExchangeApi trading.ITrading
	StateMgmt   interfaces.IStateMgmt
	EventSink   interfaces.IEventSink
	Statsd      interfaces.IStatsClient
	Limiter     *ratelimit.Limiter
	Tracker     *Tracker

	RunID primitive.ObjectID

	log *zap.Logger

	events chan Event
	done   chan struct{}

	// runCtx bounds every outbound exchange call so cancellation interrupts
	// a rate limiter wait or an in-flight request. The terminal sweep uses
	// its own grace context instead.
	runCtx context.Context

	// Everything below is touched only from the Run goroutine.
	book       *interfaces.BookSnapshot
	feedStale  bool
	startedAt  time.Time
	deadline   time.Time
	quietSince time.Time
	progress   Progress

	consecutiveFailures int
	lastRejectPrice     float64
	lastRejectSize      float64
	lastRejectSeq       int64
	lastWarning         string
	stopReason          string

	snapMu   sync.RWMutex
	snapshot StatusSnapshot
}

// NewExecutor wires an executor for one run. Dependencies are interfaces so
// tests can substitute scripted fakes. The limiter is shared with the
// exchange client so its per-attempt acquisitions and the executor's gauges
// read the same budget.
func NewExecutor(cfg *Config, api trading.ITrading, sm interfaces.IStateMgmt, sink interfaces.IEventSink, statsd interfaces.IStatsClient, limiter *ratelimit.Limiter, logger *zap.Logger) *Executor {
	ex := &Executor{
		Config:      cfg,
		ExchangeApi: api,
		StateMgmt:   sm,
		EventSink:   sink,
		Statsd:      statsd,
		Limiter:     limiter,
		Tracker:     NewTracker(),
		RunID:       primitive.NewObjectID(),
		log:         logger.With(zap.String("tokenId", cfg.TokenID), zap.String("side", cfg.Side)),
		events:      make(chan Event, eventBuffer),
		done:        make(chan struct{}),
		runCtx:      context.Background(),
	}
	ex.log = ex.log.With(zap.String("runId", ex.RunID.Hex()))

	state := stateless.NewStateMachine(Working)
	state.SetTriggerParameters(TriggerTargetReached, reflect.TypeOf(""))
	state.SetTriggerParameters(TriggerQuiescence, reflect.TypeOf(""))
	state.SetTriggerParameters(TriggerStop, reflect.TypeOf(""))
	state.SetTriggerParameters(TriggerTimeout, reflect.TypeOf(""))
	state.SetTriggerParameters(TriggerFatal, reflect.TypeOf(""))

	state.Configure(Working).
		Permit(TriggerTargetReached, Completed).
		Permit(TriggerQuiescence, Completed).
		Permit(TriggerStop, Stopped).
		Permit(TriggerTimeout, Stopped).
		Permit(TriggerFatal, Errored)

	// Terminal states ignore every trigger so a repeated stop (or a timeout
	// racing a fill that completed the run) is a silent no-op.
	state.Configure(Completed).
		OnEntry(ex.onTerminal).
		Ignore(TriggerTargetReached).
		Ignore(TriggerQuiescence).
		Ignore(TriggerStop).
		Ignore(TriggerTimeout).
		Ignore(TriggerFatal)
	state.Configure(Stopped).
		OnEntry(ex.onTerminal).
		Ignore(TriggerTargetReached).
		Ignore(TriggerQuiescence).
		Ignore(TriggerStop).
		Ignore(TriggerTimeout).
		Ignore(TriggerFatal)
	state.Configure(Errored).
		OnEntry(ex.onTerminal).
		Ignore(TriggerTargetReached).
		Ignore(TriggerQuiescence).
		Ignore(TriggerStop).
		Ignore(TriggerTimeout).
		Ignore(TriggerFatal)

	ex.State = state
	return ex
}

// Run processes events until the run reaches a terminal state. It returns a
// non-nil error only when the run ended in Errored.
func (ex *Executor) Run(ctx context.Context) error {
	ex.runCtx = ctx
	ex.startedAt = time.Now()
	ex.deadline = ex.startedAt.Add(ex.Config.Timeout)
	ex.progress.Touch(ex.startedAt)

	if err := ex.StateMgmt.SaveRun(ex.runDocument()); err != nil {
		ex.log.Warn("failed to persist run document", zap.Error(err))
	}
	ex.publish("run", "", 0, 0, "run started in "+ex.Config.Mode()+" mode")
	ex.Statsd.Inc("runs.started")
	ex.log.Info("run started",
		zap.Float64("limitPrice", ex.Config.LimitPrice),
		zap.Float64("totalQuantity", ex.Config.TotalQuantity),
		zap.Float64("childOrderSize", ex.Config.ChildOrderSize),
		zap.String("mode", ex.Config.Mode()),
	)
	ex.updateSnapshot()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for !ex.terminal() {
		select {
		case <-ctx.Done():
			ex.fire(TriggerStop, "run context cancelled")
		case e := <-ex.events:
			ex.handle(e)
		case t := <-ticker.C:
			ex.handle(Event{Kind: EventTick, At: t})
		}
		ex.updateSnapshot()
	}

	if ex.runState() == Errored {
		return fmt.Errorf("execution run errored: %s", ex.stopReason)
	}
	return nil
}

// Done is closed once the run reached a terminal state and its final report
// has been written.
func (ex *Executor) Done() <-chan struct{} {
	return ex.done
}

// Status returns the latest snapshot without touching the decision loop.
func (ex *Executor) Status() StatusSnapshot {
	ex.snapMu.RLock()
	defer ex.snapMu.RUnlock()
	return ex.snapshot
}

// EnqueueBook delivers a book snapshot to the decision loop.
func (ex *Executor) EnqueueBook(book interfaces.BookSnapshot) {
	ex.enqueue(Event{Kind: EventBook, Book: &book, At: time.Now()})
}

func (ex *Executor) EnqueueOrderUpdate(update interfaces.OrderUpdate) {
	ex.enqueue(Event{Kind: EventOrderUpdate, Order: &update, At: time.Now()})
}

func (ex *Executor) EnqueueFill(fill interfaces.FillEvent) {
	ex.enqueue(Event{Kind: EventFill, Fill: &fill, At: time.Now()})
}

func (ex *Executor) EnqueueFeedState(state interfaces.FeedState) {
	ex.enqueue(Event{Kind: EventFeedState, Feed: &state, At: time.Now()})
}

// SubmitCommand hands a command to the decision loop. Returns ErrRunFinished
// once the run is over so callers do not block forever.
func (ex *Executor) SubmitCommand(cmd Command) error {
	select {
	case ex.events <- Event{Kind: EventCommand, Command: &cmd, At: time.Now()}:
		return nil
	case <-ex.done:
		return ErrRunFinished
	}
}

func (ex *Executor) enqueue(e Event) {
	select {
	case ex.events <- e:
	case <-ex.done:
	}
}

// handle applies one event and then re-evaluates the desired order state.
// The whole cycle, exchange calls included, runs before the next event is
// read; that is what gives REST acknowledgements their ordering guarantee.
func (ex *Executor) handle(e Event) {
	switch e.Kind {
	case EventBook:
		ex.applyBook(e.Book)
	case EventOrderUpdate:
		ex.applyOrderUpdate(e.Order)
	case EventFill:
		ex.applyFill(e.Fill)
	case EventFeedState:
		ex.applyFeedState(e.Feed)
	case EventTick:
		ex.applyTick(e.At)
	case EventCommand:
		ex.applyCommand(e.Command)
	}
	if !ex.terminal() {
		ex.evaluate()
	}
}

func (ex *Executor) applyBook(book *interfaces.BookSnapshot) {
	if book.TokenID != ex.Config.TokenID {
		return
	}
	if ex.book != nil && book.Seq <= ex.book.Seq {
		return
	}
	ex.book = book
	ex.Statsd.Inc("feed.book")
}

func (ex *Executor) applyOrderUpdate(update *interfaces.OrderUpdate) {
	if !ex.Tracker.Owns(update.OrderID) {
		return
	}
	switch update.Type {
	case interfaces.UpdatePlacement:
		// The REST acknowledgement already moved the order to OPEN; the
		// stream placement is a confirmation.
		ex.log.Debug("placement confirmed", zap.String("orderId", update.OrderID))
	case interfaces.UpdateCancellation:
		if order := ex.Tracker.MarkCancelled(update.OrderID); order != nil {
			ex.progress.Touch(time.Now())
			ex.persistOrder(order)
			ex.publish("order", order.ExchangeID, order.Price, order.Quantity, "cancelled")
			ex.Statsd.Inc("orders.cancelled")
			ex.log.Info("order cancelled", zap.String("orderId", update.OrderID))
		}
	case interfaces.UpdateRejection:
		if order := ex.Tracker.MarkRejected(update.OrderID, "rejected by exchange"); order != nil {
			ex.progress.Touch(time.Now())
			ex.persistOrder(order)
			ex.publish("order", order.ExchangeID, order.Price, order.Quantity, "rejected")
			ex.Statsd.Inc("orders.rejected")
			ex.log.Warn("order rejected on stream", zap.String("orderId", update.OrderID))
		}
	}
}

func (ex *Executor) applyFill(fill *interfaces.FillEvent) {
	id := ""
	if ex.Tracker.Owns(fill.TakerOrderID) {
		id = fill.TakerOrderID
	} else {
		for _, makerID := range fill.MakerOrderIDs {
			if ex.Tracker.Owns(makerID) {
				id = makerID
				break
			}
		}
	}
	if id == "" {
		return
	}

	now := time.Now()
	runRemaining := ex.remaining()
	size := fill.Size
	if size > runRemaining {
		ex.lastWarning = fmt.Sprintf("fill of %v exceeds run remainder %v, capped", fill.Size, runRemaining)
		ex.log.Warn("overfill capped",
			zap.Float64("fillSize", fill.Size),
			zap.Float64("runRemaining", runRemaining),
		)
		size = runRemaining
	}
	if size <= 0 {
		return
	}

	applied, order, err := ex.Tracker.ApplyFill(id, size)
	if err != nil {
		if order != nil && order.Terminal() {
			// The cancel acknowledgement won the race but the execution still
			// happened on the exchange. Count it against the run.
			ex.progress.ApplyFill(size, fill.Price, now)
			ex.lastWarning = "fill arrived after order settled locally"
			ex.log.Warn("late fill counted against run",
				zap.String("orderId", id),
				zap.Float64("size", size),
			)
			ex.persistFill(order, size, fill.Price)
		}
		return
	}
	if applied <= 0 {
		return
	}
	ex.progress.ApplyFill(applied, fill.Price, now)
	ex.quietSince = time.Time{}
	ex.persistFill(order, applied, fill.Price)
	ex.log.Info("fill",
		zap.String("orderId", id),
		zap.Float64("size", applied),
		zap.Float64("price", fill.Price),
		zap.Float64("filledQuantity", ex.progress.Filled),
	)
}

func (ex *Executor) persistFill(order *ChildOrder, size, price float64) {
	ex.persistOrder(order)
	ex.publish("fill", order.ExchangeID, price, size, "")
	ex.Statsd.Inc("fills")
	ex.Statsd.Gauge("run.filled_quantity", int64(math.Round(ex.progress.Filled)))
}

func (ex *Executor) applyFeedState(state *interfaces.FeedState) {
	switch state.Kind {
	case interfaces.FeedStale:
		if !ex.feedStale {
			ex.feedStale = true
			ex.lastWarning = "market feed stale: " + state.Message
			ex.publish("feed", "", 0, 0, "stale")
			ex.Statsd.Inc("feed.stale")
			ex.log.Warn("market feed stale", zap.String("reason", state.Message))
		}
	case interfaces.FeedRecovered:
		if ex.feedStale {
			ex.feedStale = false
			ex.publish("feed", "", 0, 0, "recovered")
			ex.log.Info("market feed recovered")
		}
	case interfaces.FeedFatal:
		ex.lastWarning = "feed fatal: " + state.Message
		ex.fire(TriggerFatal, "feed failed permanently: "+state.Message)
	}
}

func (ex *Executor) applyTick(now time.Time) {
	if !now.Before(ex.deadline) {
		ex.fire(TriggerTimeout, "timeout elapsed")
		return
	}

	// Quiescence: nothing resting, nothing in flight, target not reached,
	// and a healthy feed. A stale feed pauses the clock, it does not run it.
	// Inside-liquidity runs never quiesce: a crossable price can reappear
	// any moment, so only the target or the timeout ends them.
	quiet := !ex.Config.InsideLiquidity &&
		ex.Tracker.OpenCount() == 0 &&
		ex.Tracker.PendingCount() == 0 &&
		ex.remaining() > priceEpsilon &&
		!ex.feedStale
	if quiet {
		if ex.quietSince.IsZero() {
			ex.quietSince = now
		} else if now.Sub(ex.quietSince) >= ex.Config.QuietPeriod {
			ex.fire(TriggerQuiescence, "no orders outstanding and none placeable")
			return
		}
	} else {
		ex.quietSince = time.Time{}
	}

	ex.Statsd.Gauge("run.open_orders", int64(ex.Tracker.OpenCount()))
	ex.Statsd.Gauge("ratelimit.pending", int64(ex.Limiter.Pending()))
}

func (ex *Executor) applyCommand(cmd *Command) {
	switch cmd.Kind {
	case CommandStatus:
		if cmd.Reply != nil {
			select {
			case cmd.Reply <- ex.buildSnapshot():
			default:
			}
		}
	case CommandStop:
		ex.fire(TriggerStop, "stop requested")
	case CommandUpdatePrice:
		if cmd.Price <= 0 || cmd.Price >= 1 || !onTick(cmd.Price, ex.Config.TickSize) {
			ex.lastWarning = fmt.Sprintf("rejected price update %v", cmd.Price)
			ex.log.Warn("rejected price update", zap.Float64("price", cmd.Price))
			return
		}
		ex.Config.LimitPrice = cmd.Price
		ex.publish("config", "", cmd.Price, 0, "limit price updated")
		ex.log.Info("limit price updated", zap.Float64("limitPrice", cmd.Price))
	case CommandUpdateQty:
		if cmd.Quantity <= 0 {
			ex.lastWarning = fmt.Sprintf("rejected quantity update %v", cmd.Quantity)
			ex.log.Warn("rejected quantity update", zap.Float64("quantity", cmd.Quantity))
			return
		}
		ex.Config.TotalQuantity = cmd.Quantity
		ex.publish("config", "", 0, cmd.Quantity, "target quantity updated")
		ex.log.Info("target quantity updated", zap.Float64("totalQuantity", cmd.Quantity))
		if ex.remaining() <= priceEpsilon {
			ex.fire(TriggerTargetReached, "target reduced to filled quantity")
		}
	case CommandCancelAll:
		ex.tryCancelAllConsistently(ex.runCtx)
	case CommandExtendTimeout:
		if cmd.Seconds <= 0 {
			return
		}
		ex.deadline = ex.deadline.Add(time.Duration(cmd.Seconds) * time.Second)
		ex.publish("config", "", 0, 0, fmt.Sprintf("timeout extended by %ds", cmd.Seconds))
		ex.log.Info("timeout extended", zap.Int64("seconds", cmd.Seconds))
	}
}

// evaluate reconciles the resting order with the desired one: submit when
// nothing is working, cancel when the resting price drifted or fell outside
// the limit, and otherwise leave the order alone. At most one mutating
// exchange call is issued per event.
func (ex *Executor) evaluate() {
	if ex.remaining() <= priceEpsilon {
		ex.fire(TriggerTargetReached, "target quantity filled")
		return
	}
	if ex.feedStale || ex.book == nil {
		return
	}
	if ex.Config.InsideLiquidity {
		ex.evaluateTake()
		return
	}

	active := ex.Tracker.Active()
	if active == nil {
		size := desiredSize(ex.Config, ex.remaining())
		if size <= 0 {
			return
		}
		price := desiredPrice(ex.Config, ex.book, 0)
		if !priceWithinLimit(ex.Config, price) {
			return
		}
		if price == ex.lastRejectPrice && size == ex.lastRejectSize && ex.book.Seq == ex.lastRejectSeq {
			// Same parameters on the same book already bounced; wait for the
			// market to move instead of hammering the exchange.
			return
		}
		ex.submit(price, size)
		return
	}

	switch active.Status {
	case StatusPendingSubmit, StatusPendingCancel:
		// An acknowledgement is outstanding. No new mutation until it lands.
		return
	case StatusOpen, StatusPartiallyFilled:
		desired := desiredPrice(ex.Config, ex.book, active.Price)
		if !priceWithinLimit(ex.Config, active.Price) || needsReprice(ex.Config, active.Price, desired) {
			ex.cancelOrder(active)
		}
	}
}

// evaluateTake is the inside-liquidity counterpart of evaluate: instead of
// resting at the top of book it crosses the spread whenever the opposite
// side offers enough size at an acceptable price. There is no cancel or
// reprice cycle; a taker child either executes or sits until it does.
func (ex *Executor) evaluateTake() {
	if ex.Tracker.Active() != nil {
		return
	}
	size := desiredSize(ex.Config, ex.remaining())
	if size <= 0 {
		return
	}
	price, ok := takePrice(ex.Config, ex.book)
	if !ok {
		return
	}
	if displayedSize(ex.Config, ex.book) < size {
		return
	}
	if price == ex.lastRejectPrice && size == ex.lastRejectSize && ex.book.Seq == ex.lastRejectSeq {
		return
	}
	ex.submit(price, size)
}

func (ex *Executor) submit(price, size float64) {
	child, err := ex.Tracker.NewChild(ex.Config.TokenID, ex.Config.Side, price, size)
	if err != nil {
		ex.log.Warn("submit refused", zap.Error(err))
		return
	}
	ex.persistOrder(child)
	ex.publish("order", child.LocalID, price, size, "submitting")

	started := time.Now()
	response, err := ex.ExchangeApi.CreateOrder(ex.runCtx, trading.CreateOrderRequest{
		TokenID:  ex.Config.TokenID,
		Side:     ex.Config.Side,
		Price:    price,
		Size:     size,
		ClientID: child.LocalID,
	})
	ex.Statsd.TimingDuration("exchangeapi.create_order", time.Since(started))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The run is being shut down; not an exchange failure.
			ex.Tracker.MarkRejected(child.LocalID, "run interrupted")
			return
		}
		var rejection *trading.RejectionError
		if errors.As(err, &rejection) {
			order := ex.Tracker.MarkRejected(child.LocalID, rejection.Reason)
			ex.lastRejectPrice, ex.lastRejectSize, ex.lastRejectSeq = price, size, ex.book.Seq
			ex.lastWarning = "order rejected: " + rejection.Reason
			ex.persistOrder(order)
			ex.publish("order", child.LocalID, price, size, "rejected: "+rejection.Reason)
			ex.Statsd.Inc("orders.rejected")
			ex.log.Warn("order rejected",
				zap.Float64("price", price),
				zap.Float64("size", size),
				zap.String("reason", rejection.Reason),
			)
			return
		}
		order := ex.Tracker.MarkRejected(child.LocalID, err.Error())
		ex.persistOrder(order)
		ex.consecutiveFailures++
		ex.lastWarning = "submit failed: " + err.Error()
		ex.Statsd.Inc("orders.submit_errors")
		ex.log.Error("submit failed",
			zap.Int("consecutiveFailures", ex.consecutiveFailures),
			zap.Error(err),
		)
		if ex.consecutiveFailures >= maxConsecutiveFailures {
			ex.fire(TriggerFatal, fmt.Sprintf("%d consecutive submit failures: %v", ex.consecutiveFailures, err))
		}
		return
	}

	ex.consecutiveFailures = 0
	ex.lastRejectPrice, ex.lastRejectSize, ex.lastRejectSeq = 0, 0, 0
	if err := ex.Tracker.MarkOpen(child.LocalID, response.Data.OrderID); err != nil {
		ex.log.Error("failed to reconcile submit acknowledgement", zap.Error(err))
		return
	}
	ex.progress.Touch(time.Now())
	ex.quietSince = time.Time{}
	if order := ex.Tracker.Active(); order != nil {
		ex.persistOrder(order)
	}
	ex.publish("order", response.Data.OrderID, price, size, "open")
	ex.Statsd.Inc("orders.placed")
	ex.log.Info("order placed",
		zap.String("orderId", response.Data.OrderID),
		zap.Float64("price", price),
		zap.Float64("size", size),
	)
}

func (ex *Executor) cancelOrder(active *ChildOrder) {
	changed, err := ex.Tracker.RequestCancel(active.LocalID)
	if err != nil || !changed {
		return
	}
	ex.publish("order", active.ExchangeID, active.Price, active.Quantity, "cancel requested")

	started := time.Now()
	_, err = ex.ExchangeApi.CancelOrder(ex.runCtx, trading.CancelOrderRequest{
		OrderID: active.ExchangeID,
		TokenID: ex.Config.TokenID,
	})
	ex.Statsd.TimingDuration("exchangeapi.cancel_order", time.Since(started))
	if err != nil {
		// Leave the order in PENDING_CANCEL. The user stream cancellation, a
		// fill, or the shutdown sweep will settle it.
		ex.lastWarning = "cancel failed: " + err.Error()
		ex.Statsd.Inc("orders.cancel_errors")
		ex.log.Error("cancel failed", zap.String("orderId", active.ExchangeID), zap.Error(err))
		return
	}
	if order := ex.Tracker.MarkCancelled(active.LocalID); order != nil {
		ex.progress.Touch(time.Now())
		ex.persistOrder(order)
		ex.publish("order", order.ExchangeID, order.Price, order.Quantity, "cancelled")
		ex.Statsd.Inc("orders.cancelled")
		ex.log.Info("order cancelled",
			zap.String("orderId", order.ExchangeID),
			zap.Float64("price", order.Price),
		)
	}
}

// tryCancelAllConsistently sweeps every order still believed to rest on the
// exchange. Failures are logged and the order stays unresolved; the final
// report lists it.
func (ex *Executor) tryCancelAllConsistently(ctx context.Context) {
	for _, order := range ex.Tracker.History() {
		if !order.Working() {
			continue
		}
		if order.Status != StatusPendingCancel {
			if _, err := ex.Tracker.RequestCancel(order.LocalID); err != nil {
				continue
			}
		}
		_, err := ex.ExchangeApi.CancelOrder(ctx, trading.CancelOrderRequest{
			OrderID: order.ExchangeID,
			TokenID: ex.Config.TokenID,
		})
		if err != nil {
			if ctx.Err() != nil {
				ex.log.Warn("cancel sweep interrupted", zap.Error(ctx.Err()))
				return
			}
			ex.lastWarning = "cancel failed: " + err.Error()
			ex.log.Error("cancel sweep failed for order",
				zap.String("orderId", order.ExchangeID),
				zap.Error(err),
			)
			continue
		}
		if settled := ex.Tracker.MarkCancelled(order.LocalID); settled != nil {
			ex.persistOrder(settled)
			ex.publish("order", settled.ExchangeID, settled.Price, settled.Quantity, "cancelled")
			ex.Statsd.Inc("orders.cancelled")
		}
	}
}

// onTerminal runs once, inside the state machine, when the run leaves
// Working. It sweeps open orders, writes the reconciliation report and
// releases everyone waiting on Done.
func (ex *Executor) onTerminal(_ context.Context, args ...interface{}) error {
	reason := ""
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			reason = s
		}
	}
	ex.stopReason = reason
	state := ex.runState()

	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	ex.tryCancelAllConsistently(ctx)

	report := &models.ReconciliationReport{
		RunID:            ex.RunID,
		State:            state,
		Reason:           reason,
		FilledQuantity:   ex.progress.Filled,
		TargetQuantity:   ex.Config.TotalQuantity,
		AverageFillPrice: ex.progress.AveragePrice(),
		UnresolvedOrders: ex.Tracker.Unresolved(),
		FinishedAt:       time.Now().UnixMilli(),
	}
	if err := ex.StateMgmt.SaveReport(report); err != nil {
		ex.log.Warn("failed to persist reconciliation report", zap.Error(err))
	}
	if err := ex.StateMgmt.UpdateRunState(ex.RunID, state, ex.progressSnapshot()); err != nil {
		ex.log.Warn("failed to persist final run state", zap.Error(err))
	}
	ex.publish("run", "", 0, 0, "run "+state+": "+reason)
	ex.Statsd.Inc("runs." + state)
	ex.log.Info("run finished",
		zap.String("state", state),
		zap.String("reason", reason),
		zap.Float64("filledQuantity", ex.progress.Filled),
		zap.Float64("averageFillPrice", ex.progress.AveragePrice()),
		zap.Int("unresolvedOrders", len(report.UnresolvedOrders)),
	)

	ex.updateSnapshot()
	close(ex.done)
	return nil
}

func (ex *Executor) fire(trigger, reason string) {
	if err := ex.State.Fire(trigger, reason); err != nil {
		ex.log.Error("state transition failed",
			zap.String("trigger", trigger),
			zap.Error(err),
		)
	}
}

func (ex *Executor) terminal() bool {
	return ex.runState() != Working
}

func (ex *Executor) runState() string {
	return ex.State.MustState().(string)
}

func (ex *Executor) remaining() float64 {
	r := ex.Config.TotalQuantity - ex.progress.Filled
	if r < 0 {
		return 0
	}
	return r
}

func (ex *Executor) buildSnapshot() StatusSnapshot {
	now := time.Now()
	remainingSeconds := int64(ex.deadline.Sub(now).Seconds())
	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	completion := 0.0
	if ex.Config.TotalQuantity > 0 {
		completion = toFixed(100*ex.progress.Filled/ex.Config.TotalQuantity, 2)
	}
	return StatusSnapshot{
		RunID:             ex.RunID.Hex(),
		State:             ex.runState(),
		TokenID:           ex.Config.TokenID,
		Side:              ex.Config.Side,
		Mode:              ex.Config.Mode(),
		LimitPrice:        ex.Config.LimitPrice,
		TargetQuantity:    ex.Config.TotalQuantity,
		FilledQuantity:    ex.progress.Filled,
		RemainingQuantity: ex.remaining(),
		AverageFillPrice:  ex.progress.AveragePrice(),
		CompletionPct:     completion,
		OpenOrders:        ex.Tracker.OpenCount(),
		PendingOrders:     ex.Tracker.PendingCount(),
		ElapsedSeconds:    int64(now.Sub(ex.startedAt).Seconds()),
		RemainingSeconds:  remainingSeconds,
		FeedStale:         ex.feedStale,
		LastWarning:       ex.lastWarning,
		StopReason:        ex.stopReason,
	}
}

func (ex *Executor) updateSnapshot() {
	snapshot := ex.buildSnapshot()
	ex.snapMu.Lock()
	ex.snapshot = snapshot
	ex.snapMu.Unlock()
}

func (ex *Executor) progressSnapshot() models.ProgressSnapshot {
	return models.ProgressSnapshot{
		FilledQuantity:   ex.progress.Filled,
		TargetQuantity:   ex.Config.TotalQuantity,
		AverageFillPrice: ex.progress.AveragePrice(),
		OpenOrders:       ex.Tracker.OpenCount(),
		PendingOrders:    ex.Tracker.PendingCount(),
		LastActivityAt:   ex.progress.LastActivity.UnixMilli(),
	}
}

func (ex *Executor) runDocument() *models.ExecutionRun {
	return &models.ExecutionRun{
		ID:             ex.RunID,
		TokenID:        ex.Config.TokenID,
		Side:           ex.Config.Side,
		Mode:           ex.Config.Mode(),
		LimitPrice:     ex.Config.LimitPrice,
		TotalQuantity:  ex.Config.TotalQuantity,
		ChildOrderSize: ex.Config.ChildOrderSize,
		TickSize:       ex.Config.TickSize,
		RateLimit:      ex.Config.RateLimit,
		TimeoutSeconds: int64(ex.Config.Timeout.Seconds()),
		State:          Working,
		CreatedAt:      ex.startedAt.UnixMilli(),
		UpdatedAt:      ex.startedAt.UnixMilli(),
	}
}

func (ex *Executor) persistOrder(order *ChildOrder) {
	if order == nil {
		return
	}
	doc := &models.ExecutionOrder{
		RunID:      ex.RunID,
		LocalID:    order.LocalID,
		ExchangeID: order.ExchangeID,
		TokenID:    order.TokenID,
		Side:       order.Side,
		Price:      order.Price,
		Quantity:   order.Quantity,
		Filled:     order.Filled,
		Status:     order.Status,
		CreatedAt:  order.CreatedAt.UnixMilli(),
		UpdatedAt:  order.UpdatedAt.UnixMilli(),
	}
	if err := ex.StateMgmt.SaveOrder(doc); err != nil {
		ex.log.Warn("failed to persist order", zap.String("localId", order.LocalID), zap.Error(err))
	}
}

func (ex *Executor) publish(kind, orderID string, price, size float64, message string) {
	ex.EventSink.Publish(interfaces.RunEvent{
		RunID:   ex.RunID.Hex(),
		T:       time.Now().UnixMilli(),
		Kind:    kind,
		OrderID: orderID,
		Price:   price,
		Size:    size,
		State:   ex.runState(),
		Message: message,
	})
}
