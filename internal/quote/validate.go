package quote

import (
	"fmt"
	"math"
	"time"

	"stock-alert/internal/models"
)

// Validate checks ranges only. Prices must be positive and finite; the other
// numeric fields must be non-negative when present.
func Validate(q *models.Quote) error {
	if q == nil {
		return fmt.Errorf("nil quote")
	}
	if !finite(q.Price) || q.Price <= 0 {
		return fmt.Errorf("price %v out of range", q.Price)
	}

	nonNegative := map[string]*float64{
		"open":                      q.Open,
		"high":                      q.High,
		"low":                       q.Low,
		"prev_close":                q.PrevClose,
		"fifty_two_week_high":       q.FiftyTwoWeekHigh,
		"fifty_two_week_low":        q.FiftyTwoWeekLow,
		"dividend_yield_percent":    q.DividendYieldPercent,
		"quarterly_dividend_amount": q.QuarterlyDividendAmount,
	}
	for name, v := range nonNegative {
		if v != nil && (!finite(*v) || *v < 0) {
			return fmt.Errorf("%s %v out of range", name, *v)
		}
	}

	// Change fields and P/E may be negative but never NaN or Inf.
	for name, v := range map[string]*float64{"change": q.Change, "change_percent": q.ChangePercent, "pe_ratio": q.PERatio} {
		if v != nil && !finite(*v) {
			return fmt.Errorf("%s is not finite", name)
		}
	}

	if q.Volume != nil && *q.Volume < 0 {
		return fmt.Errorf("volume %d out of range", *q.Volume)
	}
	if q.MarketCap != nil && *q.MarketCap < 0 {
		return fmt.Errorf("market cap %d out of range", *q.MarketCap)
	}

	for name, day := range map[string]string{"next_earning_day": q.NextEarningsDay, "latest_trading_day": q.LatestTradingDay} {
		if day == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("%s %q is not YYYY-MM-DD", name, day)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
