package alerts

import (
	"fmt"
	"strconv"

	"stock-alert/internal/models"
)

const missing = "—"

// FormatMessage renders a trigger for chat channels, e.g.
//
//	**AAPL** crossed **above 150.00**
//	Price: 151.25 | Open: 149.80 | From open: 0.97%
func FormatMessage(symbolID int64, ticker string, q models.Quote, t models.Trigger) models.AlertMessage {
	msg := models.AlertMessage{
		SymbolID:  symbolID,
		Ticker:    ticker,
		Signature: t.Signature,
	}

	value := strconv.FormatFloat(t.Rule.Value, 'f', -1, 64)
	switch t.Rule.Type {
	case models.RuleEarningsReminder:
		msg.Title = fmt.Sprintf("🔔 **%s** **earnings in %d day(s)** on `%s`", ticker, int(t.Rule.Value), q.NextEarningsDay)
		return msg
	case models.RuleAbove:
		msg.Title = fmt.Sprintf("**%s** crossed **above %.2f**", ticker, t.Rule.Value)
	case models.RuleBelow:
		msg.Title = fmt.Sprintf("**%s** fell **below %.2f**", ticker, t.Rule.Value)
	case models.RulePctDrop:
		msg.Title = fmt.Sprintf("**%s** **%s%% drop** from previous close (%.2f%%)", ticker, value, t.Observed)
	case models.RulePctJump:
		msg.Title = fmt.Sprintf("**%s** **%s%% jump** from previous close (%.2f%%)", ticker, value, t.Observed)
	default:
		msg.Title = fmt.Sprintf("**%s** %s", ticker, t.Signature)
	}

	msg.Body = fmt.Sprintf("Price: %s | Open: %s | From open: %s",
		fmtPrice(&q.Price), fmtPrice(q.Open), fmtPct(fromOpen(q)))
	return msg
}

func fromOpen(q models.Quote) *float64 {
	if q.Open == nil || *q.Open == 0 || !q.HasBody() {
		return nil
	}
	v := (q.Price - *q.Open) / *q.Open * 100
	return &v
}

func fmtPrice(v *float64) string {
	if v == nil || *v == 0 {
		return missing
	}
	return fmt.Sprintf("%.2f", *v)
}

func fmtPct(v *float64) string {
	if v == nil {
		return missing
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// DefaultEarningsRule is the reminder seeded for new symbols. A negative
// days value disables seeding.
func DefaultEarningsRule(symbolID int64, days int) (models.AlertRule, bool) {
	if days < 0 {
		return models.AlertRule{}, false
	}
	return models.AlertRule{SymbolID: symbolID, Type: models.RuleEarningsReminder, Value: float64(days), Enabled: true}, true
}
