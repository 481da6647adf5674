package ledger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// MarketplaceDecoder decodes Listed, Purchased and Cancelled logs of the
// secondary-market venue.
type MarketplaceDecoder struct {
	listed    abi.Event
	purchased abi.Event
	cancelled abi.Event
}

// NewMarketplaceDecoder returns a decoder for the venue ABI.
func NewMarketplaceDecoder() *MarketplaceDecoder {
	return &MarketplaceDecoder{
		listed:    Marketplace.Events["Listed"],
		purchased: Marketplace.Events["Purchased"],
		cancelled: Marketplace.Events["Cancelled"],
	}
}

// Decode returns the typed event for raw, or a *domain.DecodeError. Logs with
// an unrecognised signature unwrap to domain.ErrUnknownEvent.
func (d *MarketplaceDecoder) Decode(raw domain.RawLog) (domain.Event, error) {
	if len(raw.Topics) == 0 {
		return nil, decodeErr(raw, "log has no topics", domain.ErrUnknownEvent)
	}
	switch raw.Topics[0] {
	case d.listed.ID:
		return d.decodeListed(raw)
	case d.purchased.ID:
		return d.decodePurchased(raw)
	case d.cancelled.ID:
		return d.decodeCancelled(raw)
	default:
		return nil, decodeErr(raw, "unrecognised event", domain.ErrUnknownEvent)
	}
}

func (d *MarketplaceDecoder) decodeListed(raw domain.RawLog) (domain.Event, error) {
	if err := checkShape(d.listed, raw); err != nil {
		return nil, err
	}
	vals, err := unpackData(d.listed, raw)
	if err != nil {
		return nil, err
	}
	id, err := topicUint64(raw, 1, "id")
	if err != nil {
		return nil, err
	}
	seller, err := topicAddress(raw, 2, "seller")
	if err != nil {
		return nil, err
	}
	token, err := topicAddress(raw, 3, "token")
	if err != nil {
		return nil, err
	}
	amount, err := argUint64(raw, vals, 0, "amount")
	if err != nil {
		return nil, err
	}
	price6, err := argUint64(raw, vals, 1, "pricePerTokenUSD6")
	if err != nil {
		return nil, err
	}
	return domain.Listed{
		LogPosition: raw.Position(),
		ID:          id,
		Seller:      seller,
		Token:       token,
		Amount:      amount,
		Price6:      price6,
	}, nil
}

func (d *MarketplaceDecoder) decodePurchased(raw domain.RawLog) (domain.Event, error) {
	if err := checkShape(d.purchased, raw); err != nil {
		return nil, err
	}
	vals, err := unpackData(d.purchased, raw)
	if err != nil {
		return nil, err
	}
	id, err := topicUint64(raw, 1, "id")
	if err != nil {
		return nil, err
	}
	buyer, err := topicAddress(raw, 2, "buyer")
	if err != nil {
		return nil, err
	}
	amount, err := argUint64(raw, vals, 0, "amount")
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, decodeErr(raw, "Purchased: zero amount", nil)
	}
	cost6, err := argUint64(raw, vals, 1, "cost")
	if err != nil {
		return nil, err
	}
	return domain.Purchased{
		LogPosition: raw.Position(),
		ID:          id,
		Buyer:       buyer,
		Amount:      amount,
		Cost6:       cost6,
	}, nil
}

func (d *MarketplaceDecoder) decodeCancelled(raw domain.RawLog) (domain.Event, error) {
	if err := checkShape(d.cancelled, raw); err != nil {
		return nil, err
	}
	vals, err := unpackData(d.cancelled, raw)
	if err != nil {
		return nil, err
	}
	id, err := topicUint64(raw, 1, "id")
	if err != nil {
		return nil, err
	}
	seller, err := topicAddress(raw, 2, "seller")
	if err != nil {
		return nil, err
	}
	remaining, err := argUint64(raw, vals, 0, "remaining")
	if err != nil {
		return nil, err
	}
	return domain.Cancelled{
		LogPosition:       raw.Position(),
		ID:                id,
		Seller:            seller,
		RemainingAtCancel: remaining,
	}, nil
}
