package market

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// ChainView is the chain-derived side of a merge: the active listings and
// every id the chain has ever seen, including closed ones.
type ChainView struct {
	Listings []domain.Listing
	Known    map[uint64]bool
}

// Merge reconciles the chain view with the untrusted cache.
//
// Chain listings win on every financial field and are tagged confirmed; the
// cache only lends them a display name when they have none. A cache-only
// entry is bridged as pending when its id is unknown to the chain, it is not
// tagged confirmed, and it still has units. Everything else in the cache is
// dropped. Output is sorted by price6 then id, so Merge(c, Merge(c, x)) equals
// Merge(c, x).
func Merge(chain ChainView, cached []domain.Listing) []domain.Listing {
	byID := make(map[uint64]domain.Listing, len(cached))
	for _, c := range cached {
		byID[c.ID] = c
	}

	onChain := make(map[uint64]bool, len(chain.Listings))
	out := make([]domain.Listing, 0, len(chain.Listings)+len(cached))
	for _, l := range chain.Listings {
		onChain[l.ID] = true
		if l.Name == "" {
			if c, ok := byID[l.ID]; ok {
				l.Name = c.Name
			}
		}
		l.Status = domain.ListingConfirmed
		l.CreatedAt = time.Time{}
		out = append(out, l)
	}

	for _, c := range cached {
		if onChain[c.ID] || chain.Known[c.ID] {
			continue
		}
		if c.Status == domain.ListingConfirmed || c.Remaining == 0 {
			continue
		}
		c.Status = domain.ListingPending
		out = append(out, c)
		onChain[c.ID] = true
	}

	SortListings(out)
	return out
}

// DropExpired removes pending entries created before now minus ttl. Entries
// with no creation time and non-pending entries are kept; a zero ttl keeps
// everything.
func DropExpired(cached []domain.Listing, now time.Time, ttl time.Duration) []domain.Listing {
	if ttl <= 0 {
		return cached
	}
	cutoff := now.Add(-ttl)
	out := make([]domain.Listing, 0, len(cached))
	for _, c := range cached {
		if c.Status == domain.ListingPending && !c.CreatedAt.IsZero() && c.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// FilterToken keeps the listings of one token.
func FilterToken(ls []domain.Listing, token common.Address) []domain.Listing {
	out := make([]domain.Listing, 0, len(ls))
	for _, l := range ls {
		if l.Token == token {
			out = append(out, l)
		}
	}
	return out
}
