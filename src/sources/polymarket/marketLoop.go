package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

const (
	defaultWSURL         = "wss://ws-subscriptions-clob.polymarket.com"
	pingInterval         = 10 * time.Second
	maxReconnectAttempts = 10
	reconnectBaseDelay   = time.Second
	reconnectMaxDelay    = 30 * time.Second
)

var _ interfaces.IDataFeed = (*MarketLoop)(nil)

// MarketLoop maintains live order books for the subscribed tokens over the
// CLOB market channel and pushes a BookSnapshot to its consumer whenever a
// top of book changes. It reconnects with exponential backoff and reports
// staleness through the state callback; after the reconnect budget is spent
// it reports a fatal feed state and exits.
type MarketLoop struct {
	url        string
	tokenIDs   []string
	staleAfter time.Duration
	onBook     func(interfaces.BookSnapshot)
	onState    func(interfaces.FeedState)
	log        *zap.Logger

	books   map[string]*localBook
	latest  sync.Map // tokenID -> interfaces.BookSnapshot
	seq     int64
	lastMsg atomic.Int64 // unix nanos of the last frame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMarketLoop(tokenIDs []string, staleAfter time.Duration, onBook func(interfaces.BookSnapshot), onState func(interfaces.FeedState), logger *zap.Logger) *MarketLoop {
	url := os.Getenv("POLYMARKET_WS")
	if url == "" {
		url = defaultWSURL
	}
	books := make(map[string]*localBook, len(tokenIDs))
	for _, id := range tokenIDs {
		books[id] = newLocalBook()
	}
	return &MarketLoop{
		url:        url,
		tokenIDs:   tokenIDs,
		staleAfter: staleAfter,
		onBook:     onBook,
		onState:    onState,
		log:        logger.With(zap.String("logger", "marketLoop")),
		books:      books,
	}
}

func (ml *MarketLoop) Start(ctx context.Context) error {
	ctx, ml.cancel = context.WithCancel(ctx)
	ml.lastMsg.Store(time.Now().UnixNano())
	ml.wg.Add(2)
	go ml.run(ctx)
	go ml.watch(ctx)
	return nil
}

func (ml *MarketLoop) Stop() {
	if ml.cancel != nil {
		ml.cancel()
	}
	ml.wg.Wait()
}

// LastBook returns the most recent snapshot for a token, nil before the
// first book arrives.
func (ml *MarketLoop) LastBook(tokenID string) *interfaces.BookSnapshot {
	if value, ok := ml.latest.Load(tokenID); ok {
		snapshot := value.(interfaces.BookSnapshot)
		return &snapshot
	}
	return nil
}

func (ml *MarketLoop) run(ctx context.Context) {
	defer ml.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ml.url+"/ws/market", nil)
		if err != nil {
			attempt++
			if attempt >= maxReconnectAttempts {
				ml.onState(interfaces.FeedState{Kind: interfaces.FeedFatal, Message: fmt.Sprintf("market feed: %d failed connects: %v", attempt, err)})
				return
			}
			ml.log.Warn("market dial failed", zap.Int("attempt", attempt), zap.Error(err))
			if !sleepWithContext(ctx, backoffDelay(attempt)) {
				return
			}
			continue
		}
		ml.log.Info("market stream connected", zap.Strings("tokenIds", ml.tokenIDs))
		framesRead, err := ml.session(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if framesRead > 0 {
			attempt = 0
		}
		ml.log.Warn("market stream disconnected", zap.Int64("framesRead", framesRead), zap.Error(err))
	}
}

// session subscribes and reads until the connection dies. The read goroutine
// is the only consumer; writes happen on the session goroutine (subscribe)
// and the ping loop, serialized by a write lock.
func (ml *MarketLoop) session(ctx context.Context, conn *websocket.Conn) (int64, error) {
	var writeMu sync.Mutex
	subscribe := marketSubscription{AssetIDs: ml.tokenIDs, Type: "market"}
	if err := conn.WriteJSON(subscribe); err != nil {
		return 0, err
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	var frames int64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frames, err
		}
		frames++
		ml.lastMsg.Store(time.Now().UnixNano())
		if string(data) == "PONG" {
			continue
		}
		ml.dispatch(data)
	}
}

func (ml *MarketLoop) dispatch(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		ml.log.Debug("unparseable market frame", zap.ByteString("frame", data))
		return
	}
	for _, item := range raw {
		var env envelope
		if err := json.Unmarshal(item, &env); err != nil {
			continue
		}
		switch env.EventType {
		case "book":
			var msg bookMessage
			if err := json.Unmarshal(item, &msg); err != nil {
				continue
			}
			book, ok := ml.books[msg.AssetID]
			if !ok {
				continue
			}
			book.reset(&msg)
			ml.emit(msg.AssetID, book)
		case "price_change":
			var msg priceChangeMessage
			if err := json.Unmarshal(item, &msg); err != nil {
				continue
			}
			book, ok := ml.books[msg.AssetID]
			if !ok {
				continue
			}
			for _, change := range msg.Changes {
				book.applyChange(change)
			}
			ml.emit(msg.AssetID, book)
		}
	}
}

// emit publishes a snapshot when the top of book moved.
func (ml *MarketLoop) emit(tokenID string, book *localBook) {
	bestBid, bestAsk, bidSize, askSize, ok := book.top()
	if !ok {
		return
	}
	if value, loaded := ml.latest.Load(tokenID); loaded {
		previous := value.(interfaces.BookSnapshot)
		if previous.BestBid == bestBid && previous.BestAsk == bestAsk &&
			previous.BidSize == bidSize && previous.AskSize == askSize {
			return
		}
	}
	ml.seq++
	snapshot := interfaces.BookSnapshot{
		TokenID:   tokenID,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		BidSize:   bidSize,
		AskSize:   askSize,
		Seq:       ml.seq,
		Timestamp: time.Now(),
	}
	ml.latest.Store(tokenID, snapshot)
	ml.onBook(snapshot)
}

// watch flags the feed stale when no frame arrived within the staleness
// window and recovered once frames flow again.
func (ml *MarketLoop) watch(ctx context.Context) {
	defer ml.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	stale := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			age := time.Since(time.Unix(0, ml.lastMsg.Load()))
			if age > ml.staleAfter && !stale {
				stale = true
				ml.onState(interfaces.FeedState{Kind: interfaces.FeedStale, Message: fmt.Sprintf("no market data for %s", age.Truncate(time.Second))})
			} else if age <= ml.staleAfter && stale {
				stale = false
				ml.onState(interfaces.FeedState{Kind: interfaces.FeedRecovered})
			}
		}
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := reconnectBaseDelay << uint(attempt-1)
	if delay > reconnectMaxDelay || delay <= 0 {
		return reconnectMaxDelay
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
