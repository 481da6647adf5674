package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SaleActivityKind distinguishes primary-sale buys from refunds.
type SaleActivityKind string

const (
	ActivityBuy    SaleActivityKind = "buy"
	ActivityRefund SaleActivityKind = "refund"
)

// SaleActivity is one Purchased or Refunded event of a primary sale.
type SaleActivity struct {
	Kind     SaleActivityKind `json:"kind"`
	Sale     common.Address   `json:"sale"`
	Property string           `json:"property"`
	Location string           `json:"location,omitempty"`
	Buyer    common.Address   `json:"buyer"`
	Amount   uint64           `json:"amount"` // tokens bought; zero for refunds
	Value6   uint64           `json:"value6"` // cost or refund in 6dp USD
	LogPosition
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Holding is one property position of a wallet.
type Holding struct {
	Name       string          `json:"name"`
	Sale       common.Address  `json:"sale"`
	Token      *common.Address `json:"token,omitempty"`
	Invested6  uint64          `json:"invested6"`
	APY        decimal.Decimal `json:"apy"`
	Balance    *big.Int        `json:"balance,omitempty"`
	LastPrice6 *uint64         `json:"lastPrice6,omitempty"`
}

// PortfolioSummary aggregates a wallet's primary-sale activity.
type PortfolioSummary struct {
	Wallet         common.Address  `json:"wallet"`
	TotalInvested6 uint64          `json:"totalInvested6"`
	NetFlow6       int64           `json:"netFlow6"`
	AvgAPY         decimal.Decimal `json:"avgApy"`
	MonthlyIncome  decimal.Decimal `json:"monthlyIncome"`
	Holdings       []Holding       `json:"holdings"`
	Recent         []SaleActivity  `json:"recent"`
	USDBalance     *big.Int        `json:"usdBalance,omitempty"`
	VaultBalance   *big.Int        `json:"vaultBalance,omitempty"`
	VaultFeeBps    uint64          `json:"vaultFeeBps"`
	Properties     int             `json:"properties"`
}
