package executor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Child order lifecycle states.
const (
	StatusPendingSubmit   = "PENDING_SUBMIT"
	StatusOpen            = "OPEN"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusPendingCancel   = "PENDING_CANCEL"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
)

var (
	ErrUnknownOrder      = errors.New("order not found")
	ErrOrderActive       = errors.New("another child order is still working")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// ChildOrder is the authoritative local record of one submitted order. The
// Tracker owns every mutation; the controller only requests transitions.
type ChildOrder struct {
	LocalID    string
	ExchangeID string
	TokenID    string
	Side       string
	Price      float64
	Quantity   float64
	Filled     float64
	Status     string
	Note       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Remaining is the unfilled part of the order.
func (o *ChildOrder) Remaining() float64 {
	return o.Quantity - o.Filled
}

// Terminal reports whether the order can no longer change.
func (o *ChildOrder) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Working reports whether the order is resting (or believed resting) on the
// exchange.
func (o *ChildOrder) Working() bool {
	switch o.Status {
	case StatusOpen, StatusPartiallyFilled, StatusPendingCancel:
		return true
	}
	return false
}

// Tracker keeps every child order this run has submitted together with its
// exchange-reported state. At most one non-terminal order exists at a time;
// that invariant is what makes cancel-before-replace safe.
type Tracker struct {
	mu         sync.RWMutex
	orders     map[string]*ChildOrder
	byExchange map[string]string
	active     string
	sequence   []string

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		orders:     make(map[string]*ChildOrder),
		byExchange: make(map[string]string),
		now:        time.Now,
	}
}

// NewChild registers a PENDING_SUBMIT order and returns its local id.
// Fails while another child is still non-terminal.
func (t *Tracker) NewChild(tokenID, side string, price, quantity float64) (*ChildOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != "" {
		return nil, fmt.Errorf("%w: %s", ErrOrderActive, t.active)
	}
	now := t.now()
	order := &ChildOrder{
		LocalID:   uuid.NewString(),
		TokenID:   tokenID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    StatusPendingSubmit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.orders[order.LocalID] = order
	t.sequence = append(t.sequence, order.LocalID)
	t.active = order.LocalID
	return t.copyOf(order), nil
}

// MarkOpen reconciles the local order with the exchange-assigned id after a
// submit acknowledgement.
func (t *Tracker) MarkOpen(localID, exchangeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[localID]
	if !ok {
		return ErrUnknownOrder
	}
	if order.Status != StatusPendingSubmit {
		return fmt.Errorf("%w: %s -> OPEN", ErrInvalidTransition, order.Status)
	}
	order.ExchangeID = exchangeID
	order.Status = StatusOpen
	order.UpdatedAt = t.now()
	t.byExchange[exchangeID] = localID
	return nil
}

// RequestCancel moves a working order to PENDING_CANCEL. A second request
// for an order already pending cancel is a no-op, not a duplicate call.
func (t *Tracker) RequestCancel(localID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order, ok := t.orders[localID]
	if !ok {
		return false, ErrUnknownOrder
	}
	switch order.Status {
	case StatusPendingCancel:
		return false, nil
	case StatusOpen, StatusPartiallyFilled:
		order.Status = StatusPendingCancel
		order.UpdatedAt = t.now()
		return true, nil
	}
	return false, fmt.Errorf("%w: %s -> PENDING_CANCEL", ErrInvalidTransition, order.Status)
}

// MarkCancelled settles a cancel acknowledgement. Unknown or already
// terminal orders are ignored so duplicate acks are harmless.
func (t *Tracker) MarkCancelled(id string) *ChildOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := t.lookup(id)
	if order == nil || order.Terminal() {
		return nil
	}
	order.Status = StatusCancelled
	order.UpdatedAt = t.now()
	t.release(order)
	return t.copyOf(order)
}

// MarkRejected closes an order the exchange refused. Accepts either id.
func (t *Tracker) MarkRejected(id, note string) *ChildOrder {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := t.lookup(id)
	if order == nil || order.Terminal() {
		return nil
	}
	order.Status = StatusRejected
	order.Note = note
	order.UpdatedAt = t.now()
	t.release(order)
	return t.copyOf(order)
}

// ApplyFill records an execution against an order, capped to the order's
// remaining quantity. Fills may legally race a pending cancel. Returns the
// applied size and the updated order.
func (t *Tracker) ApplyFill(id string, size float64) (float64, *ChildOrder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	order := t.lookup(id)
	if order == nil {
		return 0, nil, ErrUnknownOrder
	}
	if order.Terminal() {
		return 0, t.copyOf(order), fmt.Errorf("%w: fill on %s", ErrInvalidTransition, order.Status)
	}
	applied := size
	if remaining := order.Remaining(); applied > remaining {
		applied = remaining
	}
	if applied <= 0 {
		return 0, t.copyOf(order), nil
	}
	order.Filled += applied
	order.UpdatedAt = t.now()
	if order.Remaining() <= priceEpsilon {
		order.Status = StatusFilled
		t.release(order)
	} else if order.Status == StatusOpen {
		order.Status = StatusPartiallyFilled
	}
	return applied, t.copyOf(order), nil
}

// Active returns a copy of the single non-terminal order, if any.
func (t *Tracker) Active() *ChildOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.active == "" {
		return nil
	}
	return t.copyOf(t.orders[t.active])
}

// Owns reports whether an exchange or local id belongs to this run.
func (t *Tracker) Owns(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lookup(id) != nil
}

// OpenCount counts orders resting (or pending cancel) on the exchange.
// PendingCount counts orders awaiting a submit acknowledgement.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, o := range t.orders {
		if o.Working() {
			n++
		}
	}
	return n
}

func (t *Tracker) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, o := range t.orders {
		if o.Status == StatusPendingSubmit {
			n++
		}
	}
	return n
}

// Unresolved lists exchange ids of orders left in a non-terminal state, for
// the final reconciliation report.
func (t *Tracker) Unresolved() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for _, localID := range t.sequence {
		o := t.orders[localID]
		if !o.Terminal() {
			id := o.ExchangeID
			if id == "" {
				id = o.LocalID
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// History returns copies of every order in submission order.
func (t *Tracker) History() []ChildOrder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChildOrder, 0, len(t.sequence))
	for _, localID := range t.sequence {
		out = append(out, *t.orders[localID])
	}
	return out
}

// lookup resolves either a local or an exchange id. Callers hold the lock.
func (t *Tracker) lookup(id string) *ChildOrder {
	if order, ok := t.orders[id]; ok {
		return order
	}
	if localID, ok := t.byExchange[id]; ok {
		return t.orders[localID]
	}
	return nil
}

func (t *Tracker) release(order *ChildOrder) {
	if t.active == order.LocalID {
		t.active = ""
	}
}

func (t *Tracker) copyOf(order *ChildOrder) *ChildOrder {
	cp := *order
	return &cp
}
