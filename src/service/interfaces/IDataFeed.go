package interfaces

import (
	"context"
	"time"
)

// BookSnapshot is the freshest top-of-book view for one token. Seq grows
// monotonically per token; snapshots with an older Seq must be discarded.
type BookSnapshot struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	BidSize   float64
	AskSize   float64
	Seq       int64
	Timestamp time.Time
}

// Spread returns the current bid/ask spread.
func (b BookSnapshot) Spread() float64 {
	return b.BestAsk - b.BestBid
}

// FeedState signals connectivity changes of a data feed.
type FeedState struct {
	Kind    string // "stale", "recovered", "fatal"
	Message string
}

const (
	FeedStale     = "stale"
	FeedRecovered = "recovered"
	FeedFatal     = "fatal"
)

// IDataFeed maintains a live order book view for subscribed tokens and
// pushes BookSnapshot updates to the consumer it was constructed with.
type IDataFeed interface {
	Start(ctx context.Context) error
	Stop()
	LastBook(tokenID string) *BookSnapshot
}
