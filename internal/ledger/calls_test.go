package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

func TestListingsCall(t *testing.T) {
	in, err := PackListings(7)
	require.NoError(t, err)
	assert.Equal(t, Marketplace.Methods["listings"].ID, in[:4])

	out, err := Marketplace.Methods["listings"].Outputs.Pack(seller, token, big.NewInt(4), big.NewInt(1_250_000))
	require.NoError(t, err)

	d, err := UnpackListings(out)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingDetail{Seller: seller, Token: token, Remaining: 4, Price6: 1_250_000}, d)

	_, err = UnpackListings(out[:32])
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestTokenCalls(t *testing.T) {
	out, err := ERC20.Methods["balanceOf"].Outputs.Pack(big.NewInt(42))
	require.NoError(t, err)
	bal, err := UnpackBalance(out)
	require.NoError(t, err)
	assert.Equal(t, int64(42), bal.Int64())

	out, err = ERC20.Methods["decimals"].Outputs.Pack(uint8(18))
	require.NoError(t, err)
	dec, err := UnpackDecimals(out)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), dec)

	out, err = Vault.Methods["feeBps"].Outputs.Pack(big.NewInt(200))
	require.NoError(t, err)
	fee, err := UnpackFeeBps(out)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), fee)

	_, err = UnpackBalance(nil)
	assert.ErrorIs(t, err, domain.ErrDecode)
}
