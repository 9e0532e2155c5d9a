// Package cli provides the command-line interface for the stock alert service.
package cli

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Missing is printed for absent optional values.
const Missing = "—"

// FormatUSD formats an amount with thousands separators: $1,234,567.89.
func FormatUSD(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(str, ".")

	result := "$" + groupThousands(intPart) + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	var b strings.Builder
	lead := n % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatOptUSD formats an optional amount.
func FormatOptUSD(v *float64) string {
	if v == nil {
		return Missing
	}
	return FormatUSD(*v)
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatChange formats a price change.
func FormatChange(change, changePct float64) string {
	sign := ""
	if change > 0 || (change == 0 && changePct > 0) {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f (%s)", sign, change, FormatPercent(changePct))
}

// FormatCompact formats large amounts as K, M, B or T.
func FormatCompact(amount float64) string {
	abs := math.Abs(amount)
	switch {
	case abs >= 1e12:
		return fmt.Sprintf("%.2fT", amount/1e12)
	case abs >= 1e9:
		return fmt.Sprintf("%.2fB", amount/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("%.2fM", amount/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.2fK", amount/1e3)
	}
	return fmt.Sprintf("%.0f", amount)
}

// FormatOptCompact formats an optional integer amount.
func FormatOptCompact(v *int64) string {
	if v == nil {
		return Missing
	}
	return FormatCompact(float64(*v))
}

// FormatEpoch renders a unix epoch in loc, or Missing for zero.
func FormatEpoch(epoch int64, loc *time.Location) string {
	if epoch == 0 {
		return Missing
	}
	return time.Unix(epoch, 0).In(loc).Format("2006-01-02 15:04:05 MST")
}

// FormatOptTime renders an optional timestamp in loc.
func FormatOptTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return Missing
	}
	return t.In(loc).Format("2006-01-02 15:04:05 MST")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatRating renders a 0-5 rating as stars.
func FormatRating(rating int) string {
	if rating <= 0 {
		return Missing
	}
	if rating > 5 {
		rating = 5
	}
	return strings.Repeat("★", rating) + strings.Repeat("☆", 5-rating)
}

// TruncateString truncates a string to max runes with an ellipsis.
func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}
