package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleType is the kind of condition an alert rule checks.
type RuleType string

const (
	RuleAbove            RuleType = "above"
	RuleBelow            RuleType = "below"
	RulePctDrop          RuleType = "pct_drop"
	RulePctJump          RuleType = "pct_jump"
	RuleEarningsReminder RuleType = "earnings_reminder"
)

// ParseRuleType accepts the canonical names plus the legacy earnings_days.
func ParseRuleType(s string) (RuleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "above":
		return RuleAbove, nil
	case "below":
		return RuleBelow, nil
	case "pct_drop":
		return RulePctDrop, nil
	case "pct_jump":
		return RulePctJump, nil
	case "earnings_reminder", "earnings_days":
		return RuleEarningsReminder, nil
	}
	return "", fmt.Errorf("unknown rule type %q", s)
}

// AlertRule represents a user-defined alert on a symbol.
type AlertRule struct {
	ID       int64    `db:"id" json:"id"`
	SymbolID int64    `db:"symbol_id" json:"symbol_id"`
	Type     RuleType `db:"type" json:"type"`
	Value    float64  `db:"value" json:"value"`
	Enabled  bool     `db:"enabled" json:"enabled"`
}

// Signature returns the dedup key for the rule.
func (r AlertRule) Signature() RuleSignature {
	return NewRuleSignature(r.Type, r.Value)
}

// RuleSignature identifies a rule for notification dedup, e.g. "above:150"
// or "earnings_reminder:3@2026-10-20".
type RuleSignature string

// NewRuleSignature formats type:value with the shortest exact decimal.
func NewRuleSignature(t RuleType, v float64) RuleSignature {
	return RuleSignature(string(t) + ":" + strconv.FormatFloat(v, 'f', -1, 64))
}

// WithDate appends an event date to the signature.
func (s RuleSignature) WithDate(day string) RuleSignature {
	return RuleSignature(string(s) + "@" + day)
}

// Type returns the rule type portion of the signature.
func (s RuleSignature) Type() RuleType {
	t, _, _ := strings.Cut(string(s), ":")
	return RuleType(t)
}

// IsOneShot reports whether a signature may only ever fire once.
func (s RuleSignature) IsOneShot() bool {
	return s.Type() == RuleEarningsReminder
}

// Trigger is a rule that matched on the current quote.
type Trigger struct {
	Rule      AlertRule
	Signature RuleSignature
	Price     float64
	// Observed is the measured value compared to the threshold (price,
	// percent move or days until earnings).
	Observed float64
}

// NotificationRecord remembers the last time a rule fired for a symbol.
type NotificationRecord struct {
	SymbolID       int64         `db:"symbol_id" json:"symbol_id"`
	RuleSignature  RuleSignature `db:"rule_signature" json:"rule_signature"`
	LastFiredEpoch int64         `db:"last_fired_epoch" json:"last_fired_epoch"`
}

// LastFired returns the record time.
func (r NotificationRecord) LastFired() time.Time {
	return time.Unix(r.LastFiredEpoch, 0)
}

// AlertMessage is a rendered notification.
type AlertMessage struct {
	SymbolID  int64         `json:"symbol_id"`
	Ticker    string        `json:"ticker"`
	Signature RuleSignature `json:"signature"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
}

// Text joins title and body the way chat channels display them.
func (m AlertMessage) Text() string {
	if m.Body == "" {
		return m.Title
	}
	return m.Title + "\n" + m.Body
}
