package ledger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// SaleDecoder decodes primary-sale Purchased and Refunded logs.
type SaleDecoder struct {
	purchased abi.Event
	refunded  abi.Event
}

// NewSaleDecoder returns a decoder for the primary-sale ABI.
func NewSaleDecoder() *SaleDecoder {
	return &SaleDecoder{
		purchased: Sale.Events["Purchased"],
		refunded:  Sale.Events["Refunded"],
	}
}

// Decode returns the activity carried by raw. Sale and property display
// fields are left for the caller to fill.
func (d *SaleDecoder) Decode(raw domain.RawLog) (domain.SaleActivity, error) {
	if len(raw.Topics) == 0 {
		return domain.SaleActivity{}, decodeErr(raw, "log has no topics", domain.ErrUnknownEvent)
	}
	switch raw.Topics[0] {
	case d.purchased.ID:
		if err := checkShape(d.purchased, raw); err != nil {
			return domain.SaleActivity{}, err
		}
		vals, err := unpackData(d.purchased, raw)
		if err != nil {
			return domain.SaleActivity{}, err
		}
		buyer, err := topicAddress(raw, 1, "buyer")
		if err != nil {
			return domain.SaleActivity{}, err
		}
		amount, err := argUint64(raw, vals, 0, "amount")
		if err != nil {
			return domain.SaleActivity{}, err
		}
		cost, err := argUint64(raw, vals, 1, "cost")
		if err != nil {
			return domain.SaleActivity{}, err
		}
		return domain.SaleActivity{
			Kind:        domain.ActivityBuy,
			Sale:        raw.Address,
			Buyer:       buyer,
			Amount:      amount,
			Value6:      cost,
			LogPosition: raw.Position(),
		}, nil

	case d.refunded.ID:
		if err := checkShape(d.refunded, raw); err != nil {
			return domain.SaleActivity{}, err
		}
		vals, err := unpackData(d.refunded, raw)
		if err != nil {
			return domain.SaleActivity{}, err
		}
		buyer, err := topicAddress(raw, 1, "buyer")
		if err != nil {
			return domain.SaleActivity{}, err
		}
		refund, err := argUint64(raw, vals, 0, "refund")
		if err != nil {
			return domain.SaleActivity{}, err
		}
		return domain.SaleActivity{
			Kind:        domain.ActivityRefund,
			Sale:        raw.Address,
			Buyer:       buyer,
			Value6:      refund,
			LogPosition: raw.Position(),
		}, nil

	default:
		return domain.SaleActivity{}, decodeErr(raw, "unrecognised event", domain.ErrUnknownEvent)
	}
}
