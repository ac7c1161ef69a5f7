package polymarket

import "strconv"

// localBook mirrors one token's order book from snapshot plus level deltas.
// Not safe for concurrent use; each loop goroutine owns its books.
type localBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newLocalBook() *localBook {
	return &localBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *localBook) reset(msg *bookMessage) {
	b.bids = make(map[float64]float64, len(msg.Bids))
	b.asks = make(map[float64]float64, len(msg.Asks))
	for _, level := range msg.Bids {
		price, size, ok := parseLevel(level.Price, level.Size)
		if ok && size > 0 {
			b.bids[price] = size
		}
	}
	for _, level := range msg.Asks {
		price, size, ok := parseLevel(level.Price, level.Size)
		if ok && size > 0 {
			b.asks[price] = size
		}
	}
}

func (b *localBook) applyChange(change levelChange) {
	price, size, ok := parseLevel(change.Price, change.Size)
	if !ok {
		return
	}
	side := b.asks
	if change.Side == "BUY" {
		side = b.bids
	}
	if size == 0 {
		delete(side, price)
		return
	}
	side[price] = size
}

// top returns the best bid and ask with their sizes. ok is false until both
// sides have at least one level.
func (b *localBook) top() (bestBid, bestAsk, bidSize, askSize float64, ok bool) {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return 0, 0, 0, 0, false
	}
	for price, size := range b.bids {
		if price > bestBid {
			bestBid, bidSize = price, size
		}
	}
	first := true
	for price, size := range b.asks {
		if first || price < bestAsk {
			bestAsk, askSize = price, size
			first = false
		}
	}
	return bestBid, bestAsk, bidSize, askSize, true
}

func parseLevel(priceStr, sizeStr string) (float64, float64, bool) {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, 0, false
	}
	size, err := strconv.ParseFloat(sizeStr, 64)
	if err != nil {
		return 0, 0, false
	}
	return price, size, true
}
