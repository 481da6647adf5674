package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStatus tags a listing in the merged view. Confirmed listings were
// observed on-chain; pending listings only exist in the optimistic cache.
type ListingStatus string

const (
	ListingPending   ListingStatus = "pending"
	ListingConfirmed ListingStatus = "confirmed"
)

// DefaultListingName is shown when neither the catalog nor the cache knows
// the property behind a listing's token.
const DefaultListingName = "Property"

// Listing is a standing offer to sell Remaining units of Token at Price6
// (6 implied decimals) per unit.
type Listing struct {
	ID        uint64         `json:"id"`
	Seller    common.Address `json:"seller"`
	Token     common.Address `json:"token"`
	Remaining uint64         `json:"remaining"`
	Price6    uint64         `json:"price6"`
	Name      string         `json:"name,omitempty"`
	Status    ListingStatus  `json:"status,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitzero"`
}

// Active reports whether the listing still has units for sale.
func (l Listing) Active() bool { return l.Remaining > 0 }

// Detail returns the financial fields of the listing.
func (l Listing) Detail() ListingDetail {
	return ListingDetail{
		Seller:    l.Seller,
		Token:     l.Token,
		Remaining: l.Remaining,
		Price6:    l.Price6,
	}
}

// ListingDetail is the venue's own storage view of a listing, as returned by
// the listings(id) contract read.
type ListingDetail struct {
	Seller    common.Address `json:"seller"`
	Token     common.Address `json:"token"`
	Remaining uint64         `json:"remaining"`
	Price6    uint64         `json:"price6"`
}
