package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerSingleActiveChild(t *testing.T) {
	tracker := NewTracker()

	first, err := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingSubmit, first.Status)

	_, err = tracker.NewChild("tok-1", SideBuy, 0.42, 10)
	assert.ErrorIs(t, err, ErrOrderActive)

	require.NoError(t, tracker.MarkOpen(first.LocalID, "ex-1"))
	_, err = tracker.NewChild("tok-1", SideBuy, 0.42, 10)
	assert.ErrorIs(t, err, ErrOrderActive, "an open order still blocks new children")

	tracker.MarkCancelled("ex-1")
	_, err = tracker.NewChild("tok-1", SideBuy, 0.42, 10)
	assert.NoError(t, err)
}

func TestTrackerLifecycleTransitions(t *testing.T) {
	tracker := NewTracker()
	order, err := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, err)

	// Cancel before the submit ack is not a legal move.
	_, err = tracker.RequestCancel(order.LocalID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tracker.MarkOpen(order.LocalID, "ex-1"))
	assert.Error(t, tracker.MarkOpen(order.LocalID, "ex-1"), "double open rejected")

	changed, err := tracker.RequestCancel(order.LocalID)
	require.NoError(t, err)
	assert.True(t, changed)

	// Second cancel request is a silent no-op, not an error.
	changed, err = tracker.RequestCancel(order.LocalID)
	require.NoError(t, err)
	assert.False(t, changed)

	settled := tracker.MarkCancelled(order.LocalID)
	require.NotNil(t, settled)
	assert.Equal(t, StatusCancelled, settled.Status)

	// Duplicate ack on a terminal order is harmless.
	assert.Nil(t, tracker.MarkCancelled(order.LocalID))
}

func TestTrackerFillsCappedToRemaining(t *testing.T) {
	tracker := NewTracker()
	order, _ := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, tracker.MarkOpen(order.LocalID, "ex-1"))

	applied, updated, err := tracker.ApplyFill("ex-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4.0, applied)
	assert.Equal(t, StatusPartiallyFilled, updated.Status)

	applied, updated, err = tracker.ApplyFill("ex-1", 20)
	require.NoError(t, err)
	assert.Equal(t, 6.0, applied, "fill capped to the order remainder")
	assert.Equal(t, StatusFilled, updated.Status)

	_, _, err = tracker.ApplyFill("ex-1", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTrackerFillDuringPendingCancel(t *testing.T) {
	tracker := NewTracker()
	order, _ := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, tracker.MarkOpen(order.LocalID, "ex-1"))
	_, err := tracker.RequestCancel(order.LocalID)
	require.NoError(t, err)

	applied, updated, err := tracker.ApplyFill("ex-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, applied, "a fill may legally race the cancel")
	assert.Equal(t, StatusFilled, updated.Status)
}

func TestTrackerLookupByEitherID(t *testing.T) {
	tracker := NewTracker()
	order, _ := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, tracker.MarkOpen(order.LocalID, "ex-1"))

	assert.True(t, tracker.Owns(order.LocalID))
	assert.True(t, tracker.Owns("ex-1"))
	assert.False(t, tracker.Owns("ex-2"))
}

func TestTrackerUnresolvedListsNonTerminalOrders(t *testing.T) {
	tracker := NewTracker()
	order, _ := tracker.NewChild("tok-1", SideBuy, 0.41, 10)
	require.NoError(t, tracker.MarkOpen(order.LocalID, "ex-1"))
	_, err := tracker.RequestCancel(order.LocalID)
	require.NoError(t, err)

	assert.Equal(t, []string{"ex-1"}, tracker.Unresolved())

	tracker.MarkCancelled("ex-1")
	assert.Empty(t, tracker.Unresolved())
}

func TestTrackerRejectedReleasesSlot(t *testing.T) {
	tracker := NewTracker()
	order, _ := tracker.NewChild("tok-1", SideBuy, 0.41, 10)

	rejected := tracker.MarkRejected(order.LocalID, "bad tick")
	require.NotNil(t, rejected)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "bad tick", rejected.Note)
	assert.Nil(t, tracker.Active())

	history := tracker.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusRejected, history[0].Status)
}
