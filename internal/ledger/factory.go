package ledger

import (
	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// FactoryDecoder decodes SaleCreated logs of the property factory.
type FactoryDecoder struct {
	saleCreated abi.Event
}

// NewFactoryDecoder returns a decoder for the factory ABI.
func NewFactoryDecoder() *FactoryDecoder {
	return &FactoryDecoder{saleCreated: Factory.Events["SaleCreated"]}
}

// Decode returns the catalog entry announced by a SaleCreated log.
func (d *FactoryDecoder) Decode(raw domain.RawLog) (domain.CatalogItem, error) {
	if len(raw.Topics) == 0 || raw.Topics[0] != d.saleCreated.ID {
		return domain.CatalogItem{}, decodeErr(raw, "unrecognised event", domain.ErrUnknownEvent)
	}
	if err := checkShape(d.saleCreated, raw); err != nil {
		return domain.CatalogItem{}, err
	}
	vals, err := unpackData(d.saleCreated, raw)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	token, err := argAddress(raw, vals, 0, "token")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	sale, err := argAddress(raw, vals, 1, "sale")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	name, err := argString(raw, vals, 2, "name")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	symbol, err := argString(raw, vals, 3, "symbol")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	price, err := argBig(raw, vals, 4, "pricePerToken")
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{
		Name:          name,
		Symbol:        symbol,
		Token:         &token,
		Sale:          &sale,
		PricePerToken: price.String(),
	}, nil
}
