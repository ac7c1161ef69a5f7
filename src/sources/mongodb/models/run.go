package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// ExecutionRun is the persisted view of one strategy run.
type ExecutionRun struct {
	ID             primitive.ObjectID `bson:"_id" json:"_id"`
	TokenID        string             `bson:"tokenId" json:"tokenId"`
	Side           string             `bson:"side" json:"side"`
	Mode           string             `bson:"mode" json:"mode"`
	LimitPrice     float64            `bson:"limitPrice" json:"limitPrice"`
	TotalQuantity  float64            `bson:"totalQuantity" json:"totalQuantity"`
	ChildOrderSize float64            `bson:"childOrderSize" json:"childOrderSize"`
	TickSize       float64            `bson:"tickSize" json:"tickSize"`
	RateLimit      int                `bson:"rateLimit" json:"rateLimit"`
	TimeoutSeconds int64              `bson:"timeoutSeconds" json:"timeoutSeconds"`
	State          string             `bson:"state" json:"state"`
	Progress       ProgressSnapshot   `bson:"progress" json:"progress"`
	CreatedAt      int64              `bson:"createdAt" json:"createdAt"`
	UpdatedAt      int64              `bson:"updatedAt" json:"updatedAt"`
}

// ProgressSnapshot is the cumulative execution progress embedded in a run.
type ProgressSnapshot struct {
	FilledQuantity   float64 `bson:"filledQuantity" json:"filledQuantity"`
	TargetQuantity   float64 `bson:"targetQuantity" json:"targetQuantity"`
	AverageFillPrice float64 `bson:"averageFillPrice" json:"averageFillPrice"`
	OpenOrders       int     `bson:"openOrders" json:"openOrders"`
	PendingOrders    int     `bson:"pendingOrders" json:"pendingOrders"`
	LastActivityAt   int64   `bson:"lastActivityAt" json:"lastActivityAt"`
}

// ExecutionOrder is the persisted history record of one child order.
type ExecutionOrder struct {
	LocalID    string             `bson:"localId" json:"localId"`
	RunID      primitive.ObjectID `bson:"runId" json:"runId"`
	ExchangeID string             `bson:"exchangeId" json:"exchangeId"`
	TokenID    string             `bson:"tokenId" json:"tokenId"`
	Side       string             `bson:"side" json:"side"`
	Price      float64            `bson:"price" json:"price"`
	Quantity   float64            `bson:"quantity" json:"quantity"`
	Filled     float64            `bson:"filled" json:"filled"`
	Status     string             `bson:"status" json:"status"`
	CreatedAt  int64              `bson:"createdAt" json:"createdAt"`
	UpdatedAt  int64              `bson:"updatedAt" json:"updatedAt"`
}

// ReconciliationReport is written once when a run reaches a terminal state.
type ReconciliationReport struct {
	RunID            primitive.ObjectID `bson:"runId" json:"runId"`
	State            string             `bson:"state" json:"state"`
	Reason           string             `bson:"reason" json:"reason"`
	FilledQuantity   float64            `bson:"filledQuantity" json:"filledQuantity"`
	TargetQuantity   float64            `bson:"targetQuantity" json:"targetQuantity"`
	AverageFillPrice float64            `bson:"averageFillPrice" json:"averageFillPrice"`
	UnresolvedOrders []string           `bson:"unresolvedOrders" json:"unresolvedOrders"`
	FinishedAt       int64              `bson:"finishedAt" json:"finishedAt"`
}

// TokenMeta is cached market metadata for one token. The engine only reads
// it; invalidation is explicit.
type TokenMeta struct {
	TokenID      string  `bson:"tokenId" json:"tokenId"`
	Slug         string  `bson:"slug" json:"slug"`
	MinTickSize  float64 `bson:"minTickSize" json:"minTickSize"`
	MinOrderSize float64 `bson:"minOrderSize" json:"minOrderSize"`
	UpdatedAt    int64   `bson:"updatedAt" json:"updatedAt"`
}
