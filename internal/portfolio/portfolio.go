// Package portfolio summarises a wallet's primary-sale activity.
package portfolio

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// RecentLimit is how many buys the summary lists.
const RecentLimit = 3

var (
	defaultAPY = decimal.RequireFromString("8.5")
	hundred    = decimal.NewFromInt(100)
	twelve     = decimal.NewFromInt(12)
)

// APY is the display yield for a property, derived from its sale address.
// It is stable per seed and lies in [7.0, 10.0]; an empty seed yields 8.5.
func APY(seed string) decimal.Decimal {
	if seed == "" {
		return defaultAPY
	}
	var x int64
	for _, r := range strings.ToLower(seed) {
		x = (x*31 + int64(r)) % 10000
	}
	return apyFromHash(x)
}

// apyFromHash rounds 7 + (x%301)/100 to one place the way the dashboard
// does: the float64 sum is expanded exactly and then rounded half up, so
// 7.05 (stored as 7.0499...) becomes 7.0 while the exact 8.25 becomes 8.3.
func apyFromHash(x int64) decimal.Decimal {
	f := 7 + float64(x%301)/100
	return decimal.RequireFromString(strconv.FormatFloat(f, 'f', 60, 64)).Round(1)
}

// USD6 converts a 6dp integer amount into a decimal dollar value.
func USD6(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Shift(-6)
}

// SortNewestFirst orders activity by timestamp descending, then chain
// position descending.
func SortNewestFirst(acts []domain.SaleActivity) {
	slices.SortStableFunc(acts, func(a, b domain.SaleActivity) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(b.BlockNumber, a.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(b.LogIndex, a.LogIndex)
	})
}

// Summarize aggregates one wallet's activity against the catalog. Balances
// and prices are left for the caller to fill.
func Summarize(wallet common.Address, acts []domain.SaleActivity, catalog []domain.CatalogItem) domain.PortfolioSummary {
	sum := domain.PortfolioSummary{
		Wallet:        wallet,
		AvgAPY:        decimal.Zero,
		MonthlyIncome: decimal.Zero,
		Holdings:      []domain.Holding{},
		Recent:        []domain.SaleActivity{},
		Properties:    len(catalog),
	}

	bySale := make(map[common.Address]domain.CatalogItem, len(catalog))
	for _, c := range catalog {
		if c.Sale != nil {
			bySale[*c.Sale] = c
		}
	}

	invested := make(map[common.Address]uint64)
	var order []common.Address
	var buys []domain.SaleActivity
	for _, a := range acts {
		if a.Buyer != wallet {
			continue
		}
		switch a.Kind {
		case domain.ActivityBuy:
			if _, ok := invested[a.Sale]; !ok {
				order = append(order, a.Sale)
			}
			invested[a.Sale] += a.Value6
			sum.TotalInvested6 += a.Value6
			sum.NetFlow6 += int64(a.Value6)
			buys = append(buys, a)
		case domain.ActivityRefund:
			sum.NetFlow6 -= int64(a.Value6)
		}
	}

	weighted := decimal.Zero
	for _, sale := range order {
		amt := USD6(invested[sale])
		apy := APY(strings.ToLower(sale.Hex()))
		weighted = weighted.Add(amt.Mul(apy))

		h := domain.Holding{
			Name:      domain.DefaultListingName,
			Sale:      sale,
			Invested6: invested[sale],
			APY:       apy,
		}
		if c, ok := bySale[sale]; ok {
			if c.Name != "" {
				h.Name = c.Name
			}
			h.Token = c.Token
		}
		sum.Holdings = append(sum.Holdings, h)
	}

	total := USD6(sum.TotalInvested6)
	if total.IsPositive() {
		sum.AvgAPY = weighted.Div(total).Round(2)
		sum.MonthlyIncome = weighted.Div(hundred).Div(twelve).Round(2)
	}

	SortNewestFirst(buys)
	if len(buys) > RecentLimit {
		buys = buys[:RecentLimit]
	}
	sum.Recent = append(sum.Recent, buys...)
	return sum
}
