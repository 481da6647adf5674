package evm

import (
	"cmp"
	"context"
	"iter"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// Logs streams every log of address within rng in (blockNumber, logIndex)
// order. With ChunkSize set the range is split into fixed windows and each
// window is fetched only when the consumer reaches it. A failed window ends
// the sequence with its *domain.TransportError.
func (c *Client) Logs(ctx context.Context, address common.Address, rng domain.BlockRange) iter.Seq2[domain.RawLog, error] {
	return func(yield func(domain.RawLog, error) bool) {
		var from uint64
		if rng.From != nil {
			from = *rng.From
		}

		if c.cfg.ChunkSize == 0 {
			var to *big.Int
			if rng.To != nil {
				to = new(big.Int).SetUint64(*rng.To)
			}
			logs, err := c.filter(ctx, address, new(big.Int).SetUint64(from), to)
			if err != nil {
				yield(domain.RawLog{}, err)
				return
			}
			emit(logs, yield)
			return
		}

		var to uint64
		if rng.To != nil {
			to = *rng.To
		} else {
			head, err := c.LatestBlock(ctx)
			if err != nil {
				yield(domain.RawLog{}, err)
				return
			}
			to = head
		}

		for start := from; start <= to; start += c.cfg.ChunkSize {
			end := min(start+c.cfg.ChunkSize-1, to)
			logs, err := c.filter(ctx, address, new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
			if err != nil {
				yield(domain.RawLog{}, err)
				return
			}
			if !emit(logs, yield) {
				return
			}
			if end == to {
				return
			}
		}
	}
}

func (c *Client) filter(ctx context.Context, address common.Address, from, to *big.Int) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{address},
	}
	return call(ctx, c, "eth_getLogs", func(ctx context.Context, b backend) ([]types.Log, error) {
		return b.FilterLogs(ctx, q)
	})
}

func emit(logs []types.Log, yield func(domain.RawLog, error) bool) bool {
	slices.SortStableFunc(logs, func(a, b types.Log) int {
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Index, b.Index)
	})
	for _, l := range logs {
		if !yield(toRaw(l), nil) {
			return false
		}
	}
	return true
}

func toRaw(l types.Log) domain.RawLog {
	return domain.RawLog{
		Address:     l.Address,
		Topics:      l.Topics,
		Data:        l.Data,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Removed:     l.Removed,
	}
}
