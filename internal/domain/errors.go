package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrLockHeld             = errors.New("lock already held")
	ErrTransport            = errors.New("transport failure")
	ErrDecode               = errors.New("decode failure")
	ErrUnknownEvent         = errors.New("unknown event signature")
	ErrCache                = errors.New("cache failure")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrInvalidListing       = errors.New("invalid listing")
)

// TransportError reports a failed log, block or contract read against the
// remote ledger. It is recoverable: callers degrade to cached data.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// DecodeError reports a single log entry that could not be turned into a
// typed event. The entry is skipped; the rest of the stream is unaffected.
type DecodeError struct {
	BlockNumber uint64
	LogIndex    uint
	Topic       common.Hash
	Reason      string
	Err         error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode log %d/%d: %s", e.BlockNumber, e.LogIndex, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDecode}
	}
	return []error{ErrDecode, e.Err}
}

// CacheError reports an unreadable or malformed cache entry. The entry is
// treated as empty.
type CacheError struct {
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Key, e.Err)
}

func (e *CacheError) Unwrap() []error { return []error{ErrCache, e.Err} }

// VerificationMismatch records a listing whose direct contract read disagrees
// with the log-replay projection. The direct read wins.
type VerificationMismatch struct {
	ListingID uint64        `json:"listingId"`
	Projected ListingDetail `json:"projected"`
	Direct    ListingDetail `json:"direct"`
}

func (e *VerificationMismatch) Error() string {
	return fmt.Sprintf("listing %d: projected remaining=%d price6=%d, contract remaining=%d price6=%d",
		e.ListingID,
		e.Projected.Remaining, e.Projected.Price6,
		e.Direct.Remaining, e.Direct.Price6,
	)
}

func (e *VerificationMismatch) Unwrap() error { return ErrVerificationMismatch }
