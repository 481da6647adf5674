// Package market rebuilds the venue's read model from its event log: the
// listing projection, trade history, derived order book and price chart, and
// the reconciliation of that projection with the optimistic cache.
package market

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// State is the lifecycle state of one listing id.
type State uint8

const (
	StateAbsent State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "absent"
	}
}

type entry struct {
	listing domain.Listing
	amount  uint64 // amount of the Listed event that opened it
	state   State
}

// Projection folds marketplace events into current listing state. It is not
// safe for concurrent use; build it on one goroutine and read it afterwards.
type Projection struct {
	entries   map[uint64]*entry
	anomalies []domain.Anomaly
	last      *domain.LogPosition
	applied   int
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{entries: make(map[uint64]*entry)}
}

// Replay folds events in the given order into a fresh projection.
func Replay(events []domain.Event) *Projection {
	p := NewProjection()
	for _, ev := range events {
		p.Apply(ev)
	}
	return p
}

// Apply folds one event. Events must arrive in (blockNumber, logIndex) order;
// an event older than its predecessor is still applied but flagged.
func (p *Projection) Apply(ev domain.Event) {
	pos := ev.Pos()
	if p.last != nil && pos.Before(*p.last) {
		p.flag(domain.AnomalyOutOfOrder, ev, "event precedes previously applied log")
	}
	p.last = &pos
	p.applied++

	e := p.entries[ev.ListingID()]

	switch v := ev.(type) {
	case domain.Listed:
		if e != nil {
			if e.state == StateClosed {
				p.flag(domain.AnomalyEventAfterClose, ev, "Listed for a closed id")
				return
			}
			p.flag(domain.AnomalyDuplicateListed, ev,
				fmt.Sprintf("overwrites remaining=%d price6=%d", e.listing.Remaining, e.listing.Price6))
		}
		state := StateOpen
		if v.Amount == 0 {
			state = StateClosed
		}
		p.entries[v.ID] = &entry{
			listing: domain.Listing{
				ID:        v.ID,
				Seller:    v.Seller,
				Token:     v.Token,
				Remaining: v.Amount,
				Price6:    v.Price6,
			},
			amount: v.Amount,
			state:  state,
		}

	case domain.Purchased:
		if !p.openEntry(e, ev) {
			return
		}
		if v.Amount >= e.listing.Remaining {
			e.listing.Remaining = 0
			e.state = StateClosed
			return
		}
		e.listing.Remaining -= v.Amount

	case domain.Cancelled:
		if !p.openEntry(e, ev) {
			return
		}
		e.listing.Remaining = 0
		e.state = StateClosed
	}
}

func (p *Projection) openEntry(e *entry, ev domain.Event) bool {
	switch {
	case e == nil:
		p.flag(domain.AnomalyUnknownListing, ev, "no Listed event for id")
		return false
	case e.state == StateClosed:
		p.flag(domain.AnomalyEventAfterClose, ev, "listing already closed")
		return false
	}
	return true
}

func (p *Projection) flag(kind domain.AnomalyKind, ev domain.Event, detail string) {
	p.anomalies = append(p.anomalies, domain.Anomaly{
		Kind:      kind,
		ListingID: ev.ListingID(),
		Event:     ev.Kind(),
		Position:  ev.Pos(),
		Detail:    detail,
	})
}

// Correct overwrites a listing's financial state with a direct contract read.
// A zero remaining closes the listing.
func (p *Projection) Correct(id uint64, d domain.ListingDetail) {
	e, ok := p.entries[id]
	if !ok {
		return
	}
	e.listing.Seller = d.Seller
	e.listing.Token = d.Token
	e.listing.Remaining = d.Remaining
	e.listing.Price6 = d.Price6
	if d.Remaining == 0 {
		e.state = StateClosed
	}
}

// Get returns the projected listing and its state.
func (p *Projection) Get(id uint64) (domain.Listing, State) {
	e, ok := p.entries[id]
	if !ok {
		return domain.Listing{}, StateAbsent
	}
	return e.listing, e.state
}

// ListedAmount returns the amount of the Listed event that opened id.
func (p *Projection) ListedAmount(id uint64) (uint64, bool) {
	e, ok := p.entries[id]
	if !ok {
		return 0, false
	}
	return e.amount, true
}

// Active returns every open listing sorted by price6 then id.
func (p *Projection) Active() []domain.Listing {
	return p.collect(func(domain.Listing) bool { return true })
}

// ActiveFor returns the open listings of one token sorted by price6 then id.
func (p *Projection) ActiveFor(token common.Address) []domain.Listing {
	return p.collect(func(l domain.Listing) bool { return l.Token == token })
}

func (p *Projection) collect(keep func(domain.Listing) bool) []domain.Listing {
	out := make([]domain.Listing, 0, len(p.entries))
	for _, e := range p.entries {
		if e.state == StateOpen && e.listing.Remaining > 0 && keep(e.listing) {
			out = append(out, e.listing)
		}
	}
	SortListings(out)
	return out
}

// Known returns the set of ids the chain has ever listed, open or closed.
func (p *Projection) Known() map[uint64]bool {
	known := make(map[uint64]bool, len(p.entries))
	for id := range p.entries {
		known[id] = true
	}
	return known
}

// Anomalies returns the irregularities flagged while folding.
func (p *Projection) Anomalies() []domain.Anomaly {
	return slices.Clone(p.anomalies)
}

// Applied returns the number of events folded.
func (p *Projection) Applied() int { return p.applied }

// SortListings orders listings by price6 ascending, ties by id ascending.
func SortListings(ls []domain.Listing) {
	slices.SortFunc(ls, func(a, b domain.Listing) int {
		if c := cmp.Compare(a.Price6, b.Price6); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
