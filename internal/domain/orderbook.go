package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceLevel aggregates quantity at one 6dp price.
type PriceLevel struct {
	Price6 uint64 `json:"price6"`
	Amount uint64 `json:"amount"`
}

// OrderBook is the derived book for one token. Asks are real listings; Bids
// are inferred from historical fill volume and are not resting orders.
type OrderBook struct {
	Token common.Address `json:"token"`
	Asks  []Listing      `json:"asks"`
	Bids  []PriceLevel   `json:"bids"`
}

// ChartPoint is one trade plotted on the price chart.
type ChartPoint struct {
	Time   time.Time `json:"time"`
	Price6 uint64    `json:"price6"`
	Amount uint64    `json:"amount"`
}

// MarketData is the read model served for one token.
type MarketData struct {
	Token      common.Address `json:"token"`
	Name       string         `json:"name,omitempty"`
	OrderBook  OrderBook      `json:"orderBook"`
	Trades     []Trade        `json:"trades"`
	LastPrice6 *uint64        `json:"lastPrice6,omitempty"`
	BestAsk6   *uint64        `json:"bestAsk6,omitempty"`
	Seq        uint64         `json:"seq"`
	BuiltAt    time.Time      `json:"builtAt"`
	Degraded   bool           `json:"degraded,omitempty"`
}

// DisplayPrice6 returns the price to quote when the book is empty on one
// side: best ask first, then last trade.
func (m MarketData) DisplayPrice6() (uint64, bool) {
	if m.BestAsk6 != nil {
		return *m.BestAsk6, true
	}
	if m.LastPrice6 != nil {
		return *m.LastPrice6, true
	}
	return 0, false
}
