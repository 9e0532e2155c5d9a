// Package models provides domain models for the stock alert application.
package models

import (
	"strings"
	"time"
)

// Group is the list a symbol belongs to.
type Group string

const (
	GroupWatch    Group = "watch"
	GroupArchived Group = "archived"
)

// ParseGroup normalizes a group name. Unknown names fall back to watch.
func ParseGroup(s string) (Group, bool) {
	switch Group(strings.ToLower(strings.TrimSpace(s))) {
	case GroupWatch, "":
		return GroupWatch, true
	case GroupArchived:
		return GroupArchived, true
	default:
		return GroupWatch, false
	}
}

// Symbol represents a tracked ticker.
type Symbol struct {
	ID            int64     `db:"id" json:"id"`
	Ticker        string    `db:"ticker" json:"ticker"`
	Group         Group     `db:"grp" json:"group"`
	Rating        int       `db:"rating" json:"rating"`
	Note          string    `db:"note" json:"note"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastEditEpoch *int64    `db:"last_edit_epoch" json:"last_edit_epoch"`
}

// NormalizeTicker upper-cases and trims a ticker.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Quote is the cached market data for one symbol. Optional fields are nil
// when the provider could not supply them.
type Quote struct {
	Symbol                  string   `json:"symbol"`
	Price                   float64  `json:"price"`
	Open                    *float64 `json:"open"`
	High                    *float64 `json:"high"`
	Low                     *float64 `json:"low"`
	PrevClose               *float64 `json:"prev_close"`
	Change                  *float64 `json:"change"`
	ChangePercent           *float64 `json:"change_percent"`
	Volume                  *int64   `json:"volume"`
	MarketCap               *int64   `json:"market_cap"`
	PERatio                 *float64 `json:"pe_ratio"`
	DividendYieldPercent    *float64 `json:"dividend_yield_percent"`
	FiftyTwoWeekHigh        *float64 `json:"fifty_two_week_high"`
	FiftyTwoWeekLow         *float64 `json:"fifty_two_week_low"`
	QuarterlyDividendAmount *float64 `json:"quarterly_dividend_amount"`
	Description             string   `json:"description"`
	NextEarningsDay         string   `json:"next_earning_day"`
	LatestTradingDay        string   `json:"latest_trading_day"`
	Source                  string   `json:"source"`

	// Check metadata. Updated on every attempt, successful or not.
	LastCheckEpoch int64  `json:"last_check_epoch"`
	LastCheckNote  string `json:"last_check_note"`
	WindowOpen     bool   `json:"window_open"`
}

// HasBody reports whether the quote carries data from a successful fetch.
func (q Quote) HasBody() bool {
	return q.Price > 0
}

// DeriveChange fills Change and ChangePercent from Price and PrevClose when
// they are missing.
func (q *Quote) DeriveChange() {
	if q.PrevClose == nil || q.Price <= 0 {
		return
	}
	if q.Change == nil {
		c := q.Price - *q.PrevClose
		q.Change = &c
	}
	if q.ChangePercent == nil && *q.PrevClose != 0 {
		p := *q.Change / *q.PrevClose * 100
		q.ChangePercent = &p
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
