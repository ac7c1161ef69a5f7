package interfaces

import (
	"context"
	"time"
)

// OrderUpdate is an asynchronous exchange acknowledgement for one order.
type OrderUpdate struct {
	Type      string // PLACEMENT, CANCELLATION, REJECTION
	OrderID   string
	TokenID   string
	Price     float64
	Size      float64
	Timestamp time.Time
}

const (
	UpdatePlacement    = "PLACEMENT"
	UpdateCancellation = "CANCELLATION"
	UpdateRejection    = "REJECTION"
)

// FillEvent is a trade execution delivered by the user stream. The engine
// matches its own orders against the taker/maker ids; foreign trades are
// dropped.
type FillEvent struct {
	TokenID       string
	TakerOrderID  string
	MakerOrderIDs []string
	Size          float64
	Price         float64
	Timestamp     time.Time
}

// IUserFeed delivers order acknowledgements and executions for the
// authenticated account.
type IUserFeed interface {
	Start(ctx context.Context) error
	Stop()
}
