// Package gate decides whether a triggered rule may notify now.
package gate

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/logging"
	"stock-alert/internal/models"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonWindowClosed Reason = "window_closed"
	ReasonAlreadyFired Reason = "already_fired"
	ReasonCooldown     Reason = "cooldown"
)

// Decision is the outcome of MayFire.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Window reports whether notifications are allowed at a moment.
type Window interface {
	IsOpenAt(t time.Time) bool
}

// RecordStore persists notification records.
type RecordStore interface {
	GetNotificationRecord(ctx context.Context, symbolID int64, sig models.RuleSignature) (*models.NotificationRecord, error)
	UpsertNotificationRecord(ctx context.Context, rec models.NotificationRecord) error
}

// Gate applies the notify window, one-shot and cooldown policies. Callers
// must serialize MayFire and RecordFired per symbol.
type Gate struct {
	window   Window
	records  RecordStore
	cooldown time.Duration
	logger   zerolog.Logger
}

// New creates a gate.
func New(window Window, records RecordStore, cooldown time.Duration, logger zerolog.Logger) *Gate {
	return &Gate{
		window:   window,
		records:  records,
		cooldown: cooldown,
		logger:   logging.WithComponent(logger, "gate"),
	}
}

// MayFire checks, in order, the notify window, one-shot signatures and the
// cooldown. A rejection is a normal outcome and not an error.
func (g *Gate) MayFire(ctx context.Context, symbolID int64, sig models.RuleSignature, now time.Time) (Decision, error) {
	if !g.window.IsOpenAt(now) {
		return Decision{Reason: ReasonWindowClosed}, nil
	}

	rec, err := g.records.GetNotificationRecord(ctx, symbolID, sig)
	if err != nil {
		return Decision{}, apperrors.Wrapf(err, "loading notification record %s", sig)
	}
	if rec == nil {
		return Decision{Allowed: true}, nil
	}

	if sig.IsOneShot() {
		return Decision{Reason: ReasonAlreadyFired}, nil
	}
	if now.Sub(rec.LastFired()) < g.cooldown {
		return Decision{Reason: ReasonCooldown}, nil
	}
	return Decision{Allowed: true}, nil
}

// RecordFired stores now as the last fire time of sig.
func (g *Gate) RecordFired(ctx context.Context, symbolID int64, sig models.RuleSignature, now time.Time) error {
	err := g.records.UpsertNotificationRecord(ctx, models.NotificationRecord{
		SymbolID:       symbolID,
		RuleSignature:  sig,
		LastFiredEpoch: now.Unix(),
	})
	if err != nil {
		return apperrors.Wrapf(err, "recording notification %s", sig)
	}
	g.logger.Debug().Int64("symbol_id", symbolID).Str("signature", string(sig)).Msg("Notification recorded")
	return nil
}
