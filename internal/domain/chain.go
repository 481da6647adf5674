package domain

import (
	"context"
	"iter"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlockRange bounds a log query. A nil From means the earliest block and a nil
// To means the latest block.
type BlockRange struct {
	From *uint64
	To   *uint64
}

// LogSource fetches the ordered log of one contract address. Each call
// returns a fresh, finite sequence in (blockNumber, logIndex) order; a
// transport failure is yielded as a *TransportError and ends the sequence.
type LogSource interface {
	Logs(ctx context.Context, address common.Address, rng BlockRange) iter.Seq2[RawLog, error]
}

// BlockResolver resolves block metadata for display-time ordering.
type BlockResolver interface {
	BlockTime(ctx context.Context, blockHash common.Hash) (time.Time, error)
}

// ListingReader reads a listing straight from the venue's storage.
type ListingReader interface {
	ListingDetail(ctx context.Context, venue common.Address, id uint64) (ListingDetail, error)
}

// TokenReader reads ERC-20 state.
type TokenReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// VaultReader reads the yield vault.
type VaultReader interface {
	VaultBalance(ctx context.Context, vault, owner common.Address) (*big.Int, error)
	FeeBps(ctx context.Context, vault common.Address) (uint64, error)
}
