package domain

import "github.com/ethereum/go-ethereum/common"

// CatalogItem is display metadata for one tokenized property. It is never a
// source of financial quantities.
type CatalogItem struct {
	Name          string          `json:"name"`
	Symbol        string          `json:"symbol"`
	Token         *common.Address `json:"token"`
	Sale          *common.Address `json:"sale"`
	Image         string          `json:"image,omitempty"`
	Location      string          `json:"location,omitempty"`
	TotalPrice    string          `json:"totalPrice,omitempty"`
	PricePerToken string          `json:"pricePerToken,omitempty"`
}

// CatalogMetadata is the display-only subset an operator may edit.
type CatalogMetadata struct {
	Name       string `json:"name,omitempty"`
	Symbol     string `json:"symbol,omitempty"`
	Image      string `json:"image,omitempty"`
	Location   string `json:"location,omitempty"`
	TotalPrice string `json:"totalPrice,omitempty"`
}
