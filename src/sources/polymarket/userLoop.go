package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gitlab.com/crypto_project/core/execution_service/src/service/interfaces"
)

var _ interfaces.IUserFeed = (*UserLoop)(nil)

// UserLoop consumes the authenticated user channel: order placement and
// cancellation acknowledgements plus trade executions for the account.
// Credentials come from POLY_API_KEY / POLY_API_SECRET / POLY_PASSPHRASE.
type UserLoop struct {
	url     string
	markets []string
	auth    wsAuth
	onOrder func(interfaces.OrderUpdate)
	onFill  func(interfaces.FillEvent)
	onState func(interfaces.FeedState)
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUserLoop(markets []string, onOrder func(interfaces.OrderUpdate), onFill func(interfaces.FillEvent), onState func(interfaces.FeedState), logger *zap.Logger) *UserLoop {
	url := os.Getenv("POLYMARKET_WS")
	if url == "" {
		url = defaultWSURL
	}
	return &UserLoop{
		url:     url,
		markets: markets,
		auth: wsAuth{
			APIKey:     os.Getenv("POLY_API_KEY"),
			Secret:     os.Getenv("POLY_API_SECRET"),
			Passphrase: os.Getenv("POLY_PASSPHRASE"),
		},
		onOrder: onOrder,
		onFill:  onFill,
		onState: onState,
		log:     logger.With(zap.String("logger", "userLoop")),
	}
}

func (ul *UserLoop) Start(ctx context.Context) error {
	ctx, ul.cancel = context.WithCancel(ctx)
	ul.wg.Add(1)
	go ul.run(ctx)
	return nil
}

func (ul *UserLoop) Stop() {
	if ul.cancel != nil {
		ul.cancel()
	}
	ul.wg.Wait()
}

func (ul *UserLoop) run(ctx context.Context) {
	defer ul.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ul.url+"/ws/user", nil)
		if err != nil {
			attempt++
			if attempt >= maxReconnectAttempts {
				ul.onState(interfaces.FeedState{Kind: interfaces.FeedFatal, Message: fmt.Sprintf("user feed: %d failed connects: %v", attempt, err)})
				return
			}
			ul.log.Warn("user dial failed", zap.Int("attempt", attempt), zap.Error(err))
			if !sleepWithContext(ctx, backoffDelay(attempt)) {
				return
			}
			continue
		}
		ul.log.Info("user stream connected")
		framesRead, err := ul.session(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if framesRead > 0 {
			attempt = 0
		}
		ul.log.Warn("user stream disconnected", zap.Int64("framesRead", framesRead), zap.Error(err))
	}
}

func (ul *UserLoop) session(ctx context.Context, conn *websocket.Conn) (int64, error) {
	var writeMu sync.Mutex
	subscribe := userSubscription{Markets: ul.markets, Type: "user", Auth: ul.auth}
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
		if string(data) == "PONG" {
			continue
		}
		ul.dispatch(data)
	}
}

func (ul *UserLoop) dispatch(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		ul.log.Debug("unparseable user frame", zap.ByteString("frame", data))
		return
	}
	for _, item := range raw {
		var env envelope
		if err := json.Unmarshal(item, &env); err != nil {
			continue
		}
		switch env.EventType {
		case "order":
			ul.handleOrder(item, env.Type)
		case "trade":
			ul.handleTrade(item)
		}
	}
}

func (ul *UserLoop) handleOrder(item json.RawMessage, msgType string) {
	var updateType string
	switch msgType {
	case "PLACEMENT":
		updateType = interfaces.UpdatePlacement
	case "CANCELLATION":
		updateType = interfaces.UpdateCancellation
	case "REJECTION":
		updateType = interfaces.UpdateRejection
	default:
		return
	}
	var msg orderMessage
	if err := json.Unmarshal(item, &msg); err != nil || msg.ID == "" {
		return
	}
	price, _ := strconv.ParseFloat(msg.Price, 64)
	size, _ := strconv.ParseFloat(msg.OriginalSize, 64)
	ul.onOrder(interfaces.OrderUpdate{
		Type:      updateType,
		OrderID:   msg.ID,
		TokenID:   msg.AssetID,
		Price:     price,
		Size:      size,
		Timestamp: time.Now(),
	})
}

func (ul *UserLoop) handleTrade(item json.RawMessage) {
	var msg tradeMessage
	if err := json.Unmarshal(item, &msg); err != nil {
		return
	}
	size, err := strconv.ParseFloat(msg.Size, 64)
	if err != nil || size <= 0 {
		return
	}
	price, _ := strconv.ParseFloat(msg.Price, 64)
	makerIDs := make([]string, 0, len(msg.MakerOrders))
	for _, maker := range msg.MakerOrders {
		if maker.OrderID != "" {
			makerIDs = append(makerIDs, maker.OrderID)
		}
	}
	ul.onFill(interfaces.FillEvent{
		TokenID:       msg.AssetID,
		TakerOrderID:  msg.TakerOrderID,
		MakerOrderIDs: makerIDs,
		Size:          size,
		Price:         price,
		Timestamp:     time.Now(),
	})
}
