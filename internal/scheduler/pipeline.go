package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-alert/internal/alerts"
	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/gate"
	"stock-alert/internal/logging"
	"stock-alert/internal/models"
)

const (
	modeBulk   = "bulk"
	modeSingle = "single"
)

// outcome is the result of one symbol pass through the pipeline.
type outcome struct {
	symbolID       int64
	ticker         string
	err            error
	kind           apperrors.FailureKind
	notified       int
	notifyFailures int
}

func (o outcome) status(now time.Time) models.SymbolStatus {
	st := models.SymbolStatus{
		SymbolID:   o.symbolID,
		Ticker:     o.ticker,
		StatusCode: models.StatusOK,
		Message:    "Price check ok",
		Notified:   o.notified,
		UpdatedAt:  now,
	}
	if o.err != nil {
		st.StatusCode = StatusCodeFor(o.kind)
		st.Message = failureMessage(o.err)
	} else if o.notifyFailures > 0 {
		st.Message = fmt.Sprintf("Price check ok; %d notification(s) failed", o.notifyFailures)
	}
	return st
}

// StatusCodeFor maps a failure kind to its status code.
func StatusCodeFor(kind apperrors.FailureKind) models.StatusCode {
	switch kind {
	case apperrors.KindRateLimited:
		return models.StatusRateLimited
	case apperrors.KindMarketClosed:
		return models.StatusMarketClosed
	case apperrors.KindAuthMissing:
		return models.StatusAuthMissing
	case apperrors.KindNetwork:
		return models.StatusNetworkError
	case apperrors.KindParse:
		return models.StatusParseError
	case apperrors.KindNotFound:
		return models.StatusNotFound
	default:
		return models.StatusPartial
	}
}

func failureMessage(err error) string {
	var pe *apperrors.ProviderError
	if apperrors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}

// processSymbol runs fetch, cache write, evaluation, gating and notification
// for one symbol. Failures are captured in the outcome, never returned.
func (s *Service) processSymbol(ctx context.Context, sym models.Symbol, mode string, logger zerolog.Logger) outcome {
	logger = logging.WithSymbol(logger, sym.Ticker)
	out := outcome{symbolID: sym.ID, ticker: sym.Ticker}
	defer func() {
		st := out.status(s.now())
		s.statusMu.Lock()
		s.symbolStatus[sym.ID] = st
		s.statusMu.Unlock()
		s.deps.Recorder.SymbolProcessed(mode, string(st.StatusCode))
	}()

	// The lock spans the fetch so a slower concurrent update of the same
	// symbol cannot write an older quote over a newer one.
	unlock := s.locks.Lock(sym.ID)
	q, err := s.deps.Fetcher.Fetch(ctx, sym.Ticker)
	now := s.now()
	windowOpen := s.deps.Calendar.IsOpenAt(now)

	// Writes and gate records complete even if the caller goes away.
	wctx := context.WithoutCancel(ctx)
	if err != nil {
		out.err, out.kind = err, apperrors.KindOf(err)
		note := s.deps.Calendar.CheckNote(now, string(StatusCodeFor(out.kind)))
		if cerr := s.deps.Cache.MarkFailedCheck(wctx, sym.ID, now.Unix(), note, windowOpen); cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to record failed check")
		}
		unlock()
		return out
	}

	messages, err := s.evaluateLocked(wctx, sym, *q, now, windowOpen, logger)
	unlock()
	if err != nil {
		out.err, out.kind = err, apperrors.KindUnknown
		return out
	}

	for _, msg := range messages {
		err := s.deps.Notifier.Send(ctx, msg)
		s.deps.Recorder.NotificationSent(err)
		logging.LogAlert(logger, sym.Ticker, string(msg.Signature), q.Price, err == nil)
		if err != nil {
			out.notifyFailures++
			logger.Warn().Err(err).Str("signature", string(msg.Signature)).Msg("Notification delivery failed")
			continue
		}
		out.notified++
	}
	return out
}

// evaluateLocked must run under the symbol lock. It captures the previous
// quote, writes the new one and records every trigger the gate allows.
func (s *Service) evaluateLocked(ctx context.Context, sym models.Symbol, q models.Quote, now time.Time, windowOpen bool, logger zerolog.Logger) ([]models.AlertMessage, error) {
	var prev *models.Quote
	if p, ok := s.deps.Cache.Get(sym.ID); ok && p.HasBody() {
		prev = &p
	}

	q.LastCheckEpoch = now.Unix()
	q.LastCheckNote = s.deps.Calendar.CheckNote(now, "Price check ok")
	q.WindowOpen = windowOpen
	if err := s.deps.Cache.Put(ctx, sym.ID, q); err != nil {
		logger.Error().Err(err).Msg("Failed to persist quote")
	}

	rules, err := s.deps.Store.GetAlertRules(ctx, sym.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load alert rules")
		return nil, apperrors.Wrap(err, "loading alert rules")
	}

	today := now.In(s.deps.Calendar.Location())
	var messages []models.AlertMessage
	for _, t := range alerts.Evaluate(prev, q, rules, today) {
		d, err := s.deps.Gate.MayFire(ctx, sym.ID, t.Signature, now)
		if err != nil {
			logger.Error().Err(err).Str("signature", string(t.Signature)).Msg("Gate check failed")
			continue
		}
		if !d.Allowed {
			s.deps.Recorder.GateDecision(string(d.Reason))
			logger.Debug().Str("signature", string(t.Signature)).Str("reason", string(d.Reason)).Msg("Trigger suppressed")
			continue
		}
		s.deps.Recorder.GateDecision("allowed")

		if err := s.deps.Gate.RecordFired(ctx, sym.ID, t.Signature, now); err != nil {
			logger.Error().Err(err).Str("signature", string(t.Signature)).Msg("Failed to record notification")
			continue
		}
		messages = append(messages, alerts.FormatMessage(sym.ID, sym.Ticker, q, t))
	}
	return messages, nil
}

// aggregate folds symbol outcomes into a run result. One failure kind across
// all failed symbols is reported as that kind; mixed kinds or notification
// failures give partial.
func aggregate(outcomes []outcome) models.RunStatus {
	var rs models.RunStatus
	kinds := make(map[apperrors.FailureKind]struct{})
	notifyFailures := 0

	for _, o := range outcomes {
		rs.NotifiedCount += o.notified
		notifyFailures += o.notifyFailures
		if o.err != nil {
			rs.ErrCount++
			kinds[o.kind] = struct{}{}
			continue
		}
		rs.OKCount++
	}
	rs.ErrCount += notifyFailures

	switch {
	case rs.ErrCount == 0:
		rs.StatusCode = models.StatusOK
	case len(kinds) == 1 && notifyFailures == 0:
		for k := range kinds {
			rs.StatusCode = StatusCodeFor(k)
		}
	default:
		rs.StatusCode = models.StatusPartial
	}
	rs.Message = fmt.Sprintf("Updated %d symbol(s), %d error(s); notified %d", rs.OKCount, rs.ErrCount, rs.NotifiedCount)
	return rs
}

var _ Gate = (*gate.Gate)(nil)
