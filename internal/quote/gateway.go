package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/logging"
	"stock-alert/internal/models"
)

// FetchObserver receives the outcome of every gateway fetch.
type FetchObserver interface {
	ObserveFetch(provider string, kind apperrors.FailureKind, err error, d time.Duration)
}

// GatewayConfig tunes the gateway.
type GatewayConfig struct {
	Timeout       time.Duration
	MinInterval   time.Duration
	QuotaTrip     int
	QuotaCooldown time.Duration
}

// Gateway fronts the active provider with a per-call timeout, pacing, a quota
// circuit breaker and response validation. It never retries.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	observer FetchObserver
	logger   zerolog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithObserver attaches a fetch observer.
func WithObserver(o FetchObserver) GatewayOption {
	return func(g *Gateway) {
		g.observer = o
	}
}

// NewGateway wraps p.
func NewGateway(p Provider, cfg GatewayConfig, logger zerolog.Logger, options ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: p,
		timeout:  cfg.Timeout,
		logger:   logging.WithComponent(logger, "gateway"),
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout(p.Name())
	}
	if cfg.MinInterval > 0 {
		g.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	if cfg.QuotaTrip > 0 {
		trip := uint32(cfg.QuotaTrip)
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 1,
			Timeout:     cfg.QuotaCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
			// Only quota exhaustion counts against the breaker.
			IsSuccessful: func(err error) bool {
				return err == nil || apperrors.KindOf(err) != apperrors.KindRateLimited
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.logger.Warn().
					Str("provider", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Quota breaker state changed")
			},
		})
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Ready reports whether the wrapped provider is configured.
func (g *Gateway) Ready() bool {
	return g.provider.Ready()
}

// Fetch returns a validated quote with derived change fields.
func (g *Gateway) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	ticker = models.NormalizeTicker(ticker)
	start := time.Now()

	q, err := g.execute(ctx, ticker)
	if err == nil {
		if verr := Validate(q); verr != nil {
			q, err = nil, failure(g.provider.Name(), ticker, apperrors.KindParse, verr.Error(), nil)
		}
	}
	if err == nil {
		q.Symbol = ticker
		if q.Source == "" {
			q.Source = g.provider.Name()
		}
		q.DeriveChange()
	}

	elapsed := time.Since(start)
	logging.LogFetch(g.logger, g.provider.Name(), ticker, elapsed, err)
	if g.observer != nil {
		g.observer.ObserveFetch(g.provider.Name(), apperrors.KindOf(err), err, elapsed)
	}
	return q, err
}

func (g *Gateway) execute(ctx context.Context, ticker string) (*models.Quote, error) {
	if g.breaker == nil {
		return g.call(ctx, ticker)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.call(ctx, ticker)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, failure(g.provider.Name(), ticker, apperrors.KindRateLimited, "provider quota exhausted, calls paused", err)
	}
	if err != nil {
		return nil, err
	}
	return res.(*models.Quote), nil
}

type fetchResult struct {
	quote *models.Quote
	err   error
}

func (g *Gateway) call(ctx context.Context, ticker string) (*models.Quote, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, failure(g.provider.Name(), ticker, apperrors.KindNetwork, "pacing wait aborted", err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		q, err := g.provider.Fetch(cctx, ticker)
		ch <- fetchResult{quote: q, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(cctx.Err(), context.DeadlineExceeded) {
				return nil, g.timeoutError(ticker, r.err)
			}
			return nil, classify(g.provider.Name(), ticker, r.err)
		}
		if r.quote == nil {
			return nil, failure(g.provider.Name(), ticker, apperrors.KindParse, "provider returned no quote", nil)
		}
		return r.quote, nil
	case <-cctx.Done():
		return nil, g.timeoutError(ticker, cctx.Err())
	}
}

func (g *Gateway) timeoutError(ticker string, err error) error {
	return failure(g.provider.Name(), ticker, apperrors.KindNetwork, fmt.Sprintf("timed out after %s", g.timeout), err)
}

// classify makes sure every provider failure carries a kind.
func classify(provider, ticker string, err error) error {
	if apperrors.KindOf(err) != apperrors.KindUnknown {
		return err
	}
	return failure(provider, ticker, apperrors.KindNetwork, "provider call failed", err)
}
