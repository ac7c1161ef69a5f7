package polymarket

// Wire types for the CLOB websocket channels. Every frame is a JSON array of
// messages; the event_type field selects the shape. Prices and sizes arrive
// as decimal strings.

type envelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// bookMessage is a full order book snapshot. Levels are sorted worst to
// best on both sides.
type bookMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []priceLevel `json:"bids"`
	Asks      []priceLevel `json:"asks"`
	Hash      string       `json:"hash"`
	Timestamp string       `json:"timestamp"`
}

type levelChange struct {
	Price string `json:"price"`
	Side  string `json:"side"` // BUY or SELL
	Size  string `json:"size"` // zero removes the level
}

type priceChangeMessage struct {
	EventType string        `json:"event_type"`
	AssetID   string        `json:"asset_id"`
	Changes   []levelChange `json:"changes"`
}

// orderMessage is a user-channel order acknowledgement.
type orderMessage struct {
	EventType    string `json:"event_type"`
	Type         string `json:"type"` // PLACEMENT, CANCELLATION, ...
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Price        string `json:"price"`
	OriginalSize string `json:"original_size"`
	Timestamp    string `json:"timestamp"`
}

type makerOrder struct {
	OrderID string `json:"order_id"`
}

// tradeMessage is a user-channel execution. The engine may appear on either
// the taker or one of the maker sides.
type tradeMessage struct {
	EventType    string       `json:"event_type"`
	AssetID      string       `json:"asset_id"`
	TakerOrderID string       `json:"taker_order_id"`
	MakerOrders  []makerOrder `json:"maker_orders"`
	Price        string       `json:"price"`
	Size         string       `json:"size"`
	Timestamp    string       `json:"timestamp"`
}

type marketSubscription struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type userSubscription struct {
	Markets []string `json:"markets"`
	Type    string   `json:"type"`
	Auth    wsAuth   `json:"auth"`
}
