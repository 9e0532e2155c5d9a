// Package alerts decides which rules fire on a fresh quote and renders the
// resulting notifications.
package alerts

import (
	"time"

	"github.com/shopspring/decimal"

	"stock-alert/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Evaluate returns the rules whose condition newly became true between prev
// and cur. prev is nil on the first successful fetch for a symbol, in which
// case only earnings reminders can fire. today is the current date in the
// market time zone.
func Evaluate(prev *models.Quote, cur models.Quote, rules []models.AlertRule, today time.Time) []models.Trigger {
	var triggers []models.Trigger
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if t, ok := evaluateRule(prev, cur, rule, today); ok {
			triggers = append(triggers, t)
		}
	}
	return triggers
}

func evaluateRule(prev *models.Quote, cur models.Quote, rule models.AlertRule, today time.Time) (models.Trigger, bool) {
	trigger := models.Trigger{Rule: rule, Signature: rule.Signature(), Price: cur.Price}

	if rule.Type == models.RuleEarningsReminder {
		days, ok := DaysUntil(cur.NextEarningsDay, today)
		if !ok || float64(days) != rule.Value {
			return trigger, false
		}
		trigger.Signature = trigger.Signature.WithDate(cur.NextEarningsDay)
		trigger.Observed = float64(days)
		return trigger, true
	}

	if prev == nil || !cur.HasBody() {
		return trigger, false
	}

	threshold := decimal.NewFromFloat(rule.Value)
	price := decimal.NewFromFloat(cur.Price)
	prevPrice := decimal.NewFromFloat(prev.Price)

	switch rule.Type {
	case models.RuleAbove:
		trigger.Observed = cur.Price
		return trigger, price.GreaterThanOrEqual(threshold) && prevPrice.LessThan(threshold)

	case models.RuleBelow:
		trigger.Observed = cur.Price
		return trigger, price.LessThanOrEqual(threshold) && prevPrice.GreaterThan(threshold)

	case models.RulePctDrop, models.RulePctJump:
		move, ok := percentMove(cur, rule.Type)
		if !ok {
			return trigger, false
		}
		trigger.Observed = move.InexactFloat64()
		if move.LessThan(threshold) {
			return trigger, false
		}
		prevMove, ok := percentMove(*prev, rule.Type)
		return trigger, !ok || prevMove.LessThan(threshold)
	}
	return trigger, false
}

// percentMove is the drop or jump of q relative to its own previous close, in
// percent. Drops are positive for pct_drop.
func percentMove(q models.Quote, t models.RuleType) (decimal.Decimal, bool) {
	if q.PrevClose == nil || *q.PrevClose == 0 || !q.HasBody() {
		return decimal.Zero, false
	}
	prevClose := decimal.NewFromFloat(*q.PrevClose)
	price := decimal.NewFromFloat(q.Price)

	diff := price.Sub(prevClose)
	if t == models.RulePctDrop {
		diff = prevClose.Sub(price)
	}
	return diff.Div(prevClose).Mul(hundred), true
}

// DaysUntil returns the whole days from today to a YYYY-MM-DD date.
func DaysUntil(day string, today time.Time) (int, bool) {
	if len(day) < 10 {
		return 0, false
	}
	d, err := time.Parse("2006-01-02", day[:10])
	if err != nil {
		return 0, false
	}
	t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	return int(d.Sub(t).Hours() / 24), true
}
