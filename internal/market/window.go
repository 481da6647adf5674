package market

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

// Window selects how far back the chart reaches.
type Window string

const (
	Window1H  Window = "1H"
	Window1D  Window = "1D"
	Window1W  Window = "1W"
	WindowAll Window = "ALL"
)

// ParseWindow accepts 1H, 1D, 1W or ALL in any case. Empty means ALL.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.ToUpper(strings.TrimSpace(s))); w {
	case Window1H, Window1D, Window1W, WindowAll:
		return w, nil
	case "":
		return WindowAll, nil
	default:
		return "", fmt.Errorf("market: unknown window %q", s)
	}
}

// Duration returns the window length; zero for ALL.
func (w Window) Duration() time.Duration {
	switch w {
	case Window1H:
		return time.Hour
	case Window1D:
		return 24 * time.Hour
	case Window1W:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Filter keeps trades with a resolved timestamp no older than now minus the
// window. Trades without a timestamp never appear in a windowed view, ALL
// included.
func (w Window) Filter(trades []domain.Trade, now time.Time) []domain.Trade {
	var cutoff time.Time
	if d := w.Duration(); d > 0 {
		cutoff = now.Add(-d)
	}
	out := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if !t.HasTimestamp() {
			continue
		}
		if !cutoff.IsZero() && t.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ChartPoints plots the windowed trades ascending by time, ties broken by
// chain position.
func ChartPoints(trades []domain.Trade, w Window, now time.Time) []domain.ChartPoint {
	in := w.Filter(trades, now)
	slices.SortStableFunc(in, func(a, b domain.Trade) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		if c := cmp.Compare(a.BlockNumber, b.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})
	pts := make([]domain.ChartPoint, len(in))
	for i, t := range in {
		pts[i] = domain.ChartPoint{Time: t.Timestamp, Price6: t.UnitPrice6, Amount: t.Amount}
	}
	return pts
}
