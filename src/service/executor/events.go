package executor

import (
	"time"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

// Event kinds consumed by the decision loop. Producers never mutate run
// state directly; everything arrives here and is processed in strict
// arrival order, fills included.
const (
	EventBook        = "Book"
	EventOrderUpdate = "OrderUpdate"
	EventFill        = "Fill"
	EventFeedState   = "FeedState"
	EventTick        = "Tick"
	EventCommand     = "Command"
)

type Event struct {
	Kind    string
	Book    *interfaces.BookSnapshot
	Order   *interfaces.OrderUpdate
	Fill    *interfaces.FillEvent
	Feed    *interfaces.FeedState
	Command *Command
	At      time.Time
}

// Command kinds accepted on the event stream. A closed set so the loop's
// dispatch stays exhaustively checkable.
const (
	CommandStatus        = "status"
	CommandStop          = "stop"
	CommandUpdatePrice   = "update_price"
	CommandUpdateQty     = "update_qty"
	CommandCancelAll     = "cancel_all"
	CommandExtendTimeout = "extend_timeout"
)

type Command struct {
	Kind     string
	Price    float64
	Quantity float64
	Seconds  int64

	// Reply receives the snapshot for CommandStatus. Must be buffered;
	// the loop never blocks on it.
	Reply chan StatusSnapshot
}

// StatusSnapshot is the point-in-time view served to the command fronts and
// the monitoring layer.
type StatusSnapshot struct {
	RunID             string  `json:"runId"`
	State             string  `json:"state"`
	TokenID           string  `json:"tokenId"`
	Side              string  `json:"side"`
	Mode              string  `json:"mode"`
	LimitPrice        float64 `json:"limitPrice"`
	TargetQuantity    float64 `json:"targetQuantity"`
	FilledQuantity    float64 `json:"filledQuantity"`
	RemainingQuantity float64 `json:"remainingQuantity"`
	AverageFillPrice  float64 `json:"averageFillPrice"`
	CompletionPct     float64 `json:"completionPct"`
	OpenOrders        int     `json:"openOrders"`
	PendingOrders     int     `json:"pendingOrders"`
	ElapsedSeconds    int64   `json:"elapsedSeconds"`
	RemainingSeconds  int64   `json:"remainingSeconds"`
	FeedStale         bool    `json:"feedStale"`
	LastWarning       string  `json:"lastWarning,omitempty"`
	StopReason        string  `json:"stopReason,omitempty"`
}
