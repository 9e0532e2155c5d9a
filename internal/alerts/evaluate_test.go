package alerts

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"stock-alert/internal/models"
)

var today = time.Date(2026, 10, 17, 9, 35, 0, 0, time.UTC)

func rule(t models.RuleType, v float64) models.AlertRule {
	return models.AlertRule{ID: 1, SymbolID: 1, Type: t, Value: v, Enabled: true}
}

func quote(price, prevClose float64) models.Quote {
	return models.Quote{Symbol: "AAPL", Price: price, PrevClose: models.Float(prevClose)}
}

func TestEvaluate_PriceEdges(t *testing.T) {
	tests := []struct {
		name string
		prev *models.Quote
		cur  models.Quote
		rule models.AlertRule
		want bool
	}{
		{"above crosses", ptrQuote(quote(149, 148)), quote(150, 148), rule(models.RuleAbove, 150), true},
		{"above already above", ptrQuote(quote(151, 148)), quote(152, 148), rule(models.RuleAbove, 150), false},
		{"above first fetch", nil, quote(152, 148), rule(models.RuleAbove, 150), false},
		{"above still below", ptrQuote(quote(140, 148)), quote(149.99, 148), rule(models.RuleAbove, 150), false},
		{"below crosses", ptrQuote(quote(101, 100)), quote(100, 100), rule(models.RuleBelow, 100), true},
		{"below stays below", ptrQuote(quote(99, 100)), quote(98, 100), rule(models.RuleBelow, 100), false},
		{"disabled", ptrQuote(quote(149, 148)), quote(150, 148), models.AlertRule{Type: models.RuleAbove, Value: 150}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.prev, tt.cur, []models.AlertRule{tt.rule}, today)
			if (len(got) == 1) != tt.want {
				t.Fatalf("Evaluate() fired=%v, want %v", len(got) == 1, tt.want)
			}
			if tt.want && got[0].Signature != tt.rule.Signature() {
				t.Errorf("signature = %q, want %q", got[0].Signature, tt.rule.Signature())
			}
		})
	}
}

func ptrQuote(q models.Quote) *models.Quote { return &q }

func TestEvaluate_PercentMoves(t *testing.T) {
	tests := []struct {
		name string
		prev models.Quote
		cur  models.Quote
		rule models.AlertRule
		want bool
	}{
		{"drop reaches exactly", quote(97, 100), quote(95, 100), rule(models.RulePctDrop, 5), true},
		{"drop already past", quote(94, 100), quote(93, 100), rule(models.RulePctDrop, 5), false},
		{"drop not reached", quote(99, 100), quote(96, 100), rule(models.RulePctDrop, 5), false},
		{"jump crosses", quote(102, 100), quote(103.5, 100), rule(models.RulePctJump, 3.5), true},
		{"jump prev uses own close", quote(104, 102), quote(104, 100), rule(models.RulePctJump, 3), true},
		{"jump prev without close", models.Quote{Price: 90}, quote(110, 100), rule(models.RulePctJump, 5), true},
		{"cur without close", quote(90, 100), models.Quote{Price: 110}, rule(models.RulePctJump, 5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tt.prev
			got := Evaluate(&prev, tt.cur, []models.AlertRule{tt.rule}, today)
			if (len(got) == 1) != tt.want {
				t.Fatalf("Evaluate() fired=%v, want %v", len(got) == 1, tt.want)
			}
		})
	}
}

func TestEvaluate_EarningsReminder(t *testing.T) {
	cur := quote(100, 99)
	cur.NextEarningsDay = "2026-10-20"

	got := Evaluate(nil, cur, []models.AlertRule{rule(models.RuleEarningsReminder, 3)}, today)
	if len(got) != 1 {
		t.Fatalf("expected earnings reminder on first fetch, got %d triggers", len(got))
	}
	if got[0].Signature != "earnings_reminder:3@2026-10-20" {
		t.Errorf("signature = %q", got[0].Signature)
	}
	if !got[0].Signature.IsOneShot() {
		t.Error("earnings signature must be one-shot")
	}

	if got := Evaluate(nil, cur, []models.AlertRule{rule(models.RuleEarningsReminder, 2)}, today); len(got) != 0 {
		t.Errorf("wrong day count fired: %+v", got)
	}
	cur.NextEarningsDay = ""
	if got := Evaluate(nil, cur, []models.AlertRule{rule(models.RuleEarningsReminder, 3)}, today); len(got) != 0 {
		t.Errorf("missing date fired: %+v", got)
	}
}

func TestDaysUntil_IgnoresTimeOfDay(t *testing.T) {
	late := time.Date(2026, 10, 17, 23, 59, 0, 0, time.FixedZone("EDT", -4*3600))
	days, ok := DaysUntil("2026-10-18", late)
	if !ok || days != 1 {
		t.Errorf("DaysUntil() = %d, %v, want 1, true", days, ok)
	}
}

func TestFormatMessage(t *testing.T) {
	q := models.Quote{Price: 151.25, Open: models.Float(150)}
	msg := FormatMessage(1, "AAPL", q, models.Trigger{Rule: rule(models.RuleAbove, 150), Signature: "above:150"})

	want := "**AAPL** crossed **above 150.00**\nPrice: 151.25 | Open: 150.00 | From open: 0.83%"
	if msg.Text() != want {
		t.Errorf("Text() = %q, want %q", msg.Text(), want)
	}

	q.NextEarningsDay = "2026-10-20"
	msg = FormatMessage(1, "AAPL", q, models.Trigger{Rule: rule(models.RuleEarningsReminder, 3)})
	if msg.Text() != "🔔 **AAPL** **earnings in 3 day(s)** on `2026-10-20`" {
		t.Errorf("earnings Text() = %q", msg.Text())
	}

	msg = FormatMessage(1, "KO", models.Quote{Price: 60}, models.Trigger{Rule: rule(models.RuleBelow, 61)})
	if msg.Body != "Price: 60.00 | Open: — | From open: —" {
		t.Errorf("Body = %q", msg.Body)
	}
}

// Property: an unchanged quote never re-triggers a threshold or percent rule.
func TestProperty_NoRefireOnUnchangedQuote(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	types := []models.RuleType{models.RuleAbove, models.RuleBelow, models.RulePctDrop, models.RulePctJump}

	properties.Property("Evaluate(q, q) is empty", prop.ForAll(
		func(price, prevClose, value float64, idx int) bool {
			q := quote(price, prevClose)
			r := rule(types[idx], value)
			return len(Evaluate(&q, q, []models.AlertRule{r}, today)) == 0
		},
		gen.Float64Range(0.01, 1000),
		gen.Float64Range(0.01, 1000),
		gen.Float64Range(0, 100),
		gen.IntRange(0, len(types)-1),
	))

	properties.TestingRun(t)
}
