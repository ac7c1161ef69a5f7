package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

func TestLocalBookSnapshotAndTop(t *testing.T) {
	book := newLocalBook()
	book.reset(&bookMessage{
		AssetID: "tok-1",
		Bids: []priceLevel{
			{Price: "0.38", Size: "100"},
			{Price: "0.40", Size: "50"},
		},
		Asks: []priceLevel{
			{Price: "0.45", Size: "80"},
			{Price: "0.42", Size: "30"},
		},
	})

	bid, ask, bidSize, askSize, ok := book.top()
	require.True(t, ok)
	assert.Equal(t, 0.40, bid)
	assert.Equal(t, 0.42, ask)
	assert.Equal(t, 50.0, bidSize)
	assert.Equal(t, 30.0, askSize)
}

func TestLocalBookLevelChanges(t *testing.T) {
	book := newLocalBook()
	book.reset(&bookMessage{
		Bids: []priceLevel{{Price: "0.40", Size: "50"}},
		Asks: []priceLevel{{Price: "0.42", Size: "30"}},
	})

	// New best bid appears.
	book.applyChange(levelChange{Price: "0.41", Side: "BUY", Size: "20"})
	bid, _, bidSize, _, _ := book.top()
	assert.Equal(t, 0.41, bid)
	assert.Equal(t, 20.0, bidSize)

	// Zero size removes the level; the previous best comes back.
	book.applyChange(levelChange{Price: "0.41", Side: "BUY", Size: "0"})
	bid, _, _, _, _ = book.top()
	assert.Equal(t, 0.40, bid)

	// Ask side update.
	book.applyChange(levelChange{Price: "0.43", Side: "SELL", Size: "10"})
	_, ask, _, _, _ := book.top()
	assert.Equal(t, 0.42, ask)
}

func TestLocalBookEmptySideNotReady(t *testing.T) {
	book := newLocalBook()
	book.reset(&bookMessage{Bids: []priceLevel{{Price: "0.40", Size: "50"}}})
	_, _, _, _, ok := book.top()
	assert.False(t, ok)
}

func newTestMarketLoop(onBook func(interfaces.BookSnapshot)) *MarketLoop {
	return NewMarketLoop([]string{"tok-1"}, 30*time.Second, onBook, func(interfaces.FeedState) {}, zap.NewNop())
}

func TestDispatchBookFrameEmitsSnapshot(t *testing.T) {
	var snapshots []interfaces.BookSnapshot
	ml := newTestMarketLoop(func(s interfaces.BookSnapshot) { snapshots = append(snapshots, s) })

	frame := []byte(`[{"event_type":"book","asset_id":"tok-1",
		"bids":[{"price":"0.38","size":"100"},{"price":"0.40","size":"50"}],
		"asks":[{"price":"0.42","size":"30"}]}]`)
	ml.dispatch(frame)

	require.Len(t, snapshots, 1)
	assert.Equal(t, "tok-1", snapshots[0].TokenID)
	assert.Equal(t, 0.40, snapshots[0].BestBid)
	assert.Equal(t, 0.42, snapshots[0].BestAsk)
	assert.Equal(t, int64(1), snapshots[0].Seq)
}

func TestDispatchPriceChangeMovesTop(t *testing.T) {
	var snapshots []interfaces.BookSnapshot
	ml := newTestMarketLoop(func(s interfaces.BookSnapshot) { snapshots = append(snapshots, s) })

	ml.dispatch([]byte(`[{"event_type":"book","asset_id":"tok-1",
		"bids":[{"price":"0.40","size":"50"}],"asks":[{"price":"0.42","size":"30"}]}]`))
	ml.dispatch([]byte(`[{"event_type":"price_change","asset_id":"tok-1",
		"changes":[{"price":"0.41","side":"BUY","size":"25"}]}]`))

	require.Len(t, snapshots, 2)
	assert.Equal(t, 0.41, snapshots[1].BestBid)
	assert.Greater(t, snapshots[1].Seq, snapshots[0].Seq, "sequence grows monotonically")
}

func TestDispatchUnchangedTopEmitsNothing(t *testing.T) {
	var snapshots []interfaces.BookSnapshot
	ml := newTestMarketLoop(func(s interfaces.BookSnapshot) { snapshots = append(snapshots, s) })

	ml.dispatch([]byte(`[{"event_type":"book","asset_id":"tok-1",
		"bids":[{"price":"0.40","size":"50"}],"asks":[{"price":"0.42","size":"30"}]}]`))
	// Deep level change, top of book untouched.
	ml.dispatch([]byte(`[{"event_type":"price_change","asset_id":"tok-1",
		"changes":[{"price":"0.30","side":"BUY","size":"500"}]}]`))

	assert.Len(t, snapshots, 1)
}

func TestDispatchIgnoresForeignAssets(t *testing.T) {
	var snapshots []interfaces.BookSnapshot
	ml := newTestMarketLoop(func(s interfaces.BookSnapshot) { snapshots = append(snapshots, s) })

	ml.dispatch([]byte(`[{"event_type":"book","asset_id":"tok-other",
		"bids":[{"price":"0.40","size":"50"}],"asks":[{"price":"0.42","size":"30"}]}]`))

	assert.Empty(t, snapshots)
	assert.Nil(t, ml.LastBook("tok-other"))
}

func TestLastBookServesLatestSnapshot(t *testing.T) {
	ml := newTestMarketLoop(func(interfaces.BookSnapshot) {})
	ml.dispatch([]byte(`[{"event_type":"book","asset_id":"tok-1",
		"bids":[{"price":"0.40","size":"50"}],"asks":[{"price":"0.42","size":"30"}]}]`))

	snapshot := ml.LastBook("tok-1")
	require.NotNil(t, snapshot)
	assert.Equal(t, 0.40, snapshot.BestBid)
	assert.InDelta(t, 0.02, snapshot.Spread(), 1e-9)
}

func newTestUserLoop(onOrder func(interfaces.OrderUpdate), onFill func(interfaces.FillEvent)) *UserLoop {
	return NewUserLoop([]string{"tok-1"}, onOrder, onFill, func(interfaces.FeedState) {}, zap.NewNop())
}

func TestUserDispatchTranslatesOrderEvents(t *testing.T) {
	var updates []interfaces.OrderUpdate
	ul := newTestUserLoop(func(u interfaces.OrderUpdate) { updates = append(updates, u) }, func(interfaces.FillEvent) {})

	ul.dispatch([]byte(`[
		{"event_type":"order","type":"PLACEMENT","id":"ex-1","asset_id":"tok-1","price":"0.41","original_size":"10"},
		{"event_type":"order","type":"CANCELLATION","id":"ex-1","asset_id":"tok-1"},
		{"event_type":"order","type":"UPDATE","id":"ex-1","asset_id":"tok-1"}
	]`))

	require.Len(t, updates, 2, "unknown order types are dropped")
	assert.Equal(t, interfaces.UpdatePlacement, updates[0].Type)
	assert.Equal(t, "ex-1", updates[0].OrderID)
	assert.Equal(t, 0.41, updates[0].Price)
	assert.Equal(t, 10.0, updates[0].Size)
	assert.Equal(t, interfaces.UpdateCancellation, updates[1].Type)
}

func TestUserDispatchTranslatesTrades(t *testing.T) {
	var fills []interfaces.FillEvent
	ul := newTestUserLoop(func(interfaces.OrderUpdate) {}, func(f interfaces.FillEvent) { fills = append(fills, f) })

	ul.dispatch([]byte(`[{"event_type":"trade","asset_id":"tok-1",
		"taker_order_id":"taker-9",
		"maker_orders":[{"order_id":"ex-1"},{"order_id":"ex-2"}],
		"price":"0.41","size":"7"}]`))

	require.Len(t, fills, 1)
	assert.Equal(t, "taker-9", fills[0].TakerOrderID)
	assert.Equal(t, []string{"ex-1", "ex-2"}, fills[0].MakerOrderIDs)
	assert.Equal(t, 7.0, fills[0].Size)
	assert.Equal(t, 0.41, fills[0].Price)
}

func TestUserDispatchDropsZeroSizeTrades(t *testing.T) {
	var fills []interfaces.FillEvent
	ul := newTestUserLoop(func(interfaces.OrderUpdate) {}, func(f interfaces.FillEvent) { fills = append(fills, f) })

	ul.dispatch([]byte(`[{"event_type":"trade","asset_id":"tok-1","price":"0.41","size":"0"}]`))
	assert.Empty(t, fills)
}
