package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Trade is an immutable record of a purchase against a listing.
type Trade struct {
	ListingID   uint64         `json:"listingId"`
	Token       common.Address `json:"token"`
	Seller      common.Address `json:"seller"`
	Buyer       common.Address `json:"buyer"`
	Amount      uint64         `json:"amount"`
	Cost6       uint64         `json:"cost6"`
	UnitPrice6  uint64         `json:"unitPrice6"` // Cost6 / Amount, rounded down
	BlockNumber uint64         `json:"blockNumber"`
	BlockHash   common.Hash    `json:"blockHash"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint           `json:"logIndex"`
	Timestamp   time.Time      `json:"timestamp,omitzero"` // zero until resolved
}

// HasTimestamp reports whether the block timestamp has been resolved.
func (t Trade) HasTimestamp() bool { return !t.Timestamp.IsZero() }

// After reports whether t is more recent than o: by timestamp when both are
// resolved, then by block number, then by log index.
func (t Trade) After(o Trade) bool {
	if t.HasTimestamp() && o.HasTimestamp() && !t.Timestamp.Equal(o.Timestamp) {
		return t.Timestamp.After(o.Timestamp)
	}
	if t.BlockNumber != o.BlockNumber {
		return t.BlockNumber > o.BlockNumber
	}
	return t.LogIndex > o.LogIndex
}
