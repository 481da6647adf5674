package domain

import "github.com/ethereum/go-ethereum/common"

// RawLog is a single undecoded log entry as delivered by the ledger.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// Position returns the log's place in chain order.
func (l RawLog) Position() LogPosition {
	return LogPosition{
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
	}
}

// LogPosition locates an event in chain order.
type LogPosition struct {
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	TxHash      common.Hash `json:"txHash"`
	LogIndex    uint        `json:"logIndex"`
}

// Before reports whether p precedes o in (blockNumber, logIndex) order.
func (p LogPosition) Before(o LogPosition) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

// EventKind names a marketplace event.
type EventKind string

const (
	EventListed    EventKind = "Listed"
	EventPurchased EventKind = "Purchased"
	EventCancelled EventKind = "Cancelled"
)

// Event is the closed set of marketplace events: Listed, Purchased and
// Cancelled. Consumers switch on the concrete type.
type Event interface {
	Kind() EventKind
	ListingID() uint64
	Pos() LogPosition
	isEvent()
}

// Listed opens a listing of Amount units at Price6 per unit.
type Listed struct {
	LogPosition
	ID     uint64
	Seller common.Address
	Token  common.Address
	Amount uint64
	Price6 uint64
}

// Purchased buys Amount units of a listing for Cost6 in total.
type Purchased struct {
	LogPosition
	ID     uint64
	Buyer  common.Address
	Amount uint64
	Cost6  uint64
}

// Cancelled closes a listing. RemainingAtCancel is informational only.
type Cancelled struct {
	LogPosition
	ID                uint64
	Seller            common.Address
	RemainingAtCancel uint64
}

func (Listed) Kind() EventKind    { return EventListed }
func (Purchased) Kind() EventKind { return EventPurchased }
func (Cancelled) Kind() EventKind { return EventCancelled }

func (e Listed) ListingID() uint64    { return e.ID }
func (e Purchased) ListingID() uint64 { return e.ID }
func (e Cancelled) ListingID() uint64 { return e.ID }

func (e Listed) Pos() LogPosition    { return e.LogPosition }
func (e Purchased) Pos() LogPosition { return e.LogPosition }
func (e Cancelled) Pos() LogPosition { return e.LogPosition }

func (Listed) isEvent()    {}
func (Purchased) isEvent() {}
func (Cancelled) isEvent() {}
