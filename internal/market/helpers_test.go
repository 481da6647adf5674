package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

var (
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// at positions events in block order, one log per block.
func at(block uint64) domain.LogPosition {
	return domain.LogPosition{
		BlockNumber: block,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func listed(block, id, amount, price6 uint64) domain.Listed {
	return domain.Listed{LogPosition: at(block), ID: id, Seller: alice, Token: tokenA, Amount: amount, Price6: price6}
}

func listedFor(block, id uint64, tok common.Address, amount, price6 uint64) domain.Listed {
	l := listed(block, id, amount, price6)
	l.Token = tok
	return l
}

func purchased(block, id, amount, cost6 uint64) domain.Purchased {
	return domain.Purchased{LogPosition: at(block), ID: id, Buyer: bob, Amount: amount, Cost6: cost6}
}

func cancelled(block, id, remaining uint64) domain.Cancelled {
	return domain.Cancelled{LogPosition: at(block), ID: id, Seller: alice, RemainingAtCancel: remaining}
}
