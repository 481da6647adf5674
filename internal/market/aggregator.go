package market

import (
	"cmp"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

type listingMeta struct {
	seller    common.Address
	token     common.Address
	remaining uint64
	closed    bool
}

// Aggregator derives trades and prices from Purchased events. It reads Listed
// events only for id to token and seller metadata, so it is independent of
// projection state: a purchase against a closed id still counts as a trade of
// the token that id was last opened for. A repeat Listed on an open id
// replaces the metadata for later fills; on a closed id it is ignored.
type Aggregator struct {
	meta   map[uint64]listingMeta
	trades []domain.Trade
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{meta: make(map[uint64]listingMeta)}
}

// Aggregate folds events in order into a fresh aggregator.
func Aggregate(events []domain.Event) *Aggregator {
	a := NewAggregator()
	for _, ev := range events {
		a.Add(ev)
	}
	return a
}

// Add folds one event. Purchases against unknown ids and zero-amount
// purchases produce no trade.
func (a *Aggregator) Add(ev domain.Event) {
	switch v := ev.(type) {
	case domain.Listed:
		if m, ok := a.meta[v.ID]; ok && m.closed {
			return
		}
		a.meta[v.ID] = listingMeta{
			seller:    v.Seller,
			token:     v.Token,
			remaining: v.Amount,
			closed:    v.Amount == 0,
		}
	case domain.Cancelled:
		if m, ok := a.meta[v.ID]; ok {
			m.remaining, m.closed = 0, true
			a.meta[v.ID] = m
		}
	case domain.Purchased:
		m, ok := a.meta[v.ID]
		if !ok || v.Amount == 0 {
			return
		}
		if !m.closed {
			m.remaining -= min(m.remaining, v.Amount)
			m.closed = m.remaining == 0
			a.meta[v.ID] = m
		}
		a.trades = append(a.trades, domain.Trade{
			ListingID:   v.ID,
			Token:       m.token,
			Seller:      m.seller,
			Buyer:       v.Buyer,
			Amount:      v.Amount,
			Cost6:       v.Cost6,
			UnitPrice6:  v.Cost6 / v.Amount,
			BlockNumber: v.BlockNumber,
			BlockHash:   v.BlockHash,
			TxHash:      v.TxHash,
			LogIndex:    v.LogIndex,
		})
	}
}

// Trades returns every trade in log order.
func (a *Aggregator) Trades() []domain.Trade {
	return slices.Clone(a.trades)
}

// SetTimestamps fills resolved block times by block hash.
func (a *Aggregator) SetTimestamps(times map[common.Hash]time.Time) {
	for i := range a.trades {
		if ts, ok := times[a.trades[i].BlockHash]; ok {
			a.trades[i].Timestamp = ts
		}
	}
}

// TradesFor filters trades to one token, preserving order.
func TradesFor(trades []domain.Trade, token common.Address) []domain.Trade {
	out := make([]domain.Trade, 0)
	for _, t := range trades {
		if t.Token == token {
			out = append(out, t)
		}
	}
	return out
}

// BestAsk returns the lowest price among asks with remaining units.
func BestAsk(asks []domain.Listing) (uint64, bool) {
	var (
		best  uint64
		found bool
	)
	for _, l := range asks {
		if l.Remaining == 0 {
			continue
		}
		if !found || l.Price6 < best {
			best, found = l.Price6, true
		}
	}
	return best, found
}

// InferredBids groups historical fill volume by unit price, highest first.
// These levels describe where buyers have traded, not resting orders.
func InferredBids(trades []domain.Trade) []domain.PriceLevel {
	vol := make(map[uint64]uint64)
	for _, t := range trades {
		vol[t.UnitPrice6] += t.Amount
	}
	out := make([]domain.PriceLevel, 0, len(vol))
	for p, amt := range vol {
		out = append(out, domain.PriceLevel{Price6: p, Amount: amt})
	}
	slices.SortFunc(out, func(a, b domain.PriceLevel) int {
		return cmp.Compare(b.Price6, a.Price6)
	})
	return out
}

// LastPrice returns the unit price of the most recent trade.
func LastPrice(trades []domain.Trade) (uint64, bool) {
	if len(trades) == 0 {
		return 0, false
	}
	last := trades[0]
	for _, t := range trades[1:] {
		if t.After(last) {
			last = t
		}
	}
	return last.UnitPrice6, true
}

// BuildOrderBook assembles the derived book for one token.
func BuildOrderBook(token common.Address, asks []domain.Listing, trades []domain.Trade) domain.OrderBook {
	own := make([]domain.Listing, 0, len(asks))
	for _, l := range asks {
		if l.Token == token && l.Remaining > 0 {
			own = append(own, l)
		}
	}
	SortListings(own)
	return domain.OrderBook{
		Token: token,
		Asks:  own,
		Bids:  InferredBids(TradesFor(trades, token)),
	}
}
