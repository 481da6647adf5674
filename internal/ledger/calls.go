package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// PackListings encodes the listings(id) view call.
func PackListings(id uint64) ([]byte, error) {
	return Marketplace.Pack("listings", new(big.Int).SetUint64(id))
}

// UnpackListings decodes the listings(id) return tuple.
func UnpackListings(out []byte) (domain.ListingDetail, error) {
	vals, err := unpackCall(Marketplace, "listings", out, 4)
	if err != nil {
		return domain.ListingDetail{}, err
	}
	seller, ok1 := vals[0].(common.Address)
	tok, ok2 := vals[1].(common.Address)
	remaining, ok3 := vals[2].(*big.Int)
	price, ok4 := vals[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.ListingDetail{}, fmt.Errorf("ledger: listings: unexpected output types: %w", domain.ErrDecode)
	}
	if !remaining.IsUint64() || !price.IsUint64() {
		return domain.ListingDetail{}, fmt.Errorf("ledger: listings: value out of range: %w", domain.ErrDecode)
	}
	return domain.ListingDetail{
		Seller:    seller,
		Token:     tok,
		Remaining: remaining.Uint64(),
		Price6:    price.Uint64(),
	}, nil
}

// PackBalanceOf encodes balanceOf(owner). ERC-20 tokens and the vault share
// the selector.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return ERC20.Pack("balanceOf", owner)
}

// UnpackBalance decodes a uint256 balance.
func UnpackBalance(out []byte) (*big.Int, error) {
	vals, err := unpackCall(ERC20, "balanceOf", out, 1)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("ledger: balanceOf: unexpected output type %T: %w", vals[0], domain.ErrDecode)
	}
	return v, nil
}

// PackDecimals encodes decimals().
func PackDecimals() ([]byte, error) { return ERC20.Pack("decimals") }

// UnpackDecimals decodes a uint8 decimals result.
func UnpackDecimals(out []byte) (uint8, error) {
	vals, err := unpackCall(ERC20, "decimals", out, 1)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("ledger: decimals: unexpected output type %T: %w", vals[0], domain.ErrDecode)
	}
	return v, nil
}

// PackFeeBps encodes the vault's feeBps().
func PackFeeBps() ([]byte, error) { return Vault.Pack("feeBps") }

// UnpackFeeBps decodes the vault fee in basis points.
func UnpackFeeBps(out []byte) (uint64, error) {
	vals, err := unpackCall(Vault, "feeBps", out, 1)
	if err != nil {
		return 0, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("ledger: feeBps: bad output: %w", domain.ErrDecode)
	}
	return v.Uint64(), nil
}

func unpackCall(contract abi.ABI, method string, out []byte, n int) ([]any, error) {
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpack %s: %w: %w", method, domain.ErrDecode, err)
	}
	if len(vals) != n {
		return nil, fmt.Errorf("ledger: unpack %s: got %d values: %w", method, len(vals), domain.ErrDecode)
	}
	return vals, nil
}
