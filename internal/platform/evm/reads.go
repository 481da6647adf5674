package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
	"github.com/alanyoungcy/rwamarket/internal/ledger"
)

// ListingDetail reads listings(id) from the venue's storage at the latest
// block.
func (c *Client) ListingDetail(ctx context.Context, venue common.Address, id uint64) (domain.ListingDetail, error) {
	data, err := ledger.PackListings(id)
	if err != nil {
		return domain.ListingDetail{}, fmt.Errorf("evm: pack listings: %w", err)
	}
	out, err := c.view(ctx, "listings", venue, data)
	if err != nil {
		return domain.ListingDetail{}, err
	}
	return ledger.UnpackListings(out)
}

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := ledger.PackBalanceOf(owner)
	if err != nil {
		return nil, fmt.Errorf("evm: pack balanceOf: %w", err)
	}
	out, err := c.view(ctx, "balanceOf", token, data)
	if err != nil {
		return nil, err
	}
	return ledger.UnpackBalance(out)
}

// Decimals reads an ERC-20 token's decimals.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := ledger.PackDecimals()
	if err != nil {
		return 0, fmt.Errorf("evm: pack decimals: %w", err)
	}
	out, err := c.view(ctx, "decimals", token, data)
	if err != nil {
		return 0, err
	}
	return ledger.UnpackDecimals(out)
}

// VaultBalance reads the owner's vault share balance.
func (c *Client) VaultBalance(ctx context.Context, vault, owner common.Address) (*big.Int, error) {
	return c.BalanceOf(ctx, vault, owner)
}

// FeeBps reads the vault fee in basis points.
func (c *Client) FeeBps(ctx context.Context, vault common.Address) (uint64, error) {
	data, err := ledger.PackFeeBps()
	if err != nil {
		return 0, fmt.Errorf("evm: pack feeBps: %w", err)
	}
	out, err := c.view(ctx, "feeBps", vault, data)
	if err != nil {
		return 0, err
	}
	return ledger.UnpackFeeBps(out)
}

func (c *Client) view(ctx context.Context, method string, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	return call(ctx, c, "eth_call "+method, func(ctx context.Context, b backend) ([]byte, error) {
		return b.CallContract(ctx, msg, nil)
	})
}

var (
	_ domain.LogSource     = (*Client)(nil)
	_ domain.BlockResolver = (*Client)(nil)
	_ domain.ListingReader = (*Client)(nil)
	_ domain.TokenReader   = (*Client)(nil)
	_ domain.VaultReader   = (*Client)(nil)
)
