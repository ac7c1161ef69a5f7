package interfaces

// RunEvent is one state transition of an execution run, published for the
// monitoring layer. Every submit, ack, fill, cancel, reject and run state
// change produces one event.
type RunEvent struct {
	RunID   string  `json:"runId"`
	T       int64   `json:"t"` // unix millis
	Kind    string  `json:"kind"`
	OrderID string  `json:"orderId,omitempty"`
	Price   float64 `json:"price,omitempty"`
	Size    float64 `json:"size,omitempty"`
	State   string  `json:"state,omitempty"`
	Message string  `json:"message,omitempty"`
}

// IEventSink receives run events. Implementations must not block the
// decision loop.
type IEventSink interface {
	Publish(event RunEvent)
	Close()
}
