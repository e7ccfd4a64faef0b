package events

import (
	"sync"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// TradeEvent represents an executed trade, published after the ledger accepted it.
type TradeEvent struct {
	Pair  string             `json:"pair"`
	Trade domain.TradeRecord `json:"trade"`
	// Equity after the trade, marked at the fill price.
	EquityUSD float64 `json:"equity_usd"`
}

// TradeBroadcaster fans out trade events to all subscribers via buffered channels.
type TradeBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan TradeEvent]struct{}
	buffer int
}

// NewTradeBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewTradeBroadcaster(buffer int) *TradeBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &TradeBroadcaster{
		subs:   make(map[chan TradeEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for slow readers.
func (b *TradeBroadcaster) Publish(e TradeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *TradeBroadcaster) Subscribe() chan TradeEvent {
	ch := make(chan TradeEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *TradeBroadcaster) Unsubscribe(ch chan TradeEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscriptions.
func (b *TradeBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
