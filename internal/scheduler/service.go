// Package scheduler runs quote refreshes, in bulk on a schedule or for a
// single symbol on demand, and drives alert evaluation and notification.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stock-alert/internal/cache"
	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/gate"
	"stock-alert/internal/logging"
	"stock-alert/internal/market"
	"stock-alert/internal/models"
	"stock-alert/internal/notify"
)

// Store is the read side of the symbol store plus run status persistence.
type Store interface {
	StatusStore
	ListWatchedSymbols(ctx context.Context) ([]models.Symbol, error)
	GetSymbol(ctx context.Context, id int64) (*models.Symbol, error)
	GetAlertRules(ctx context.Context, symbolID int64) ([]models.AlertRule, error)
}

// Fetcher returns validated quotes.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string) (*models.Quote, error)
}

// Gate decides whether a trigger may notify.
type Gate interface {
	MayFire(ctx context.Context, symbolID int64, sig models.RuleSignature, now time.Time) (gate.Decision, error)
	RecordFired(ctx context.Context, symbolID int64, sig models.RuleSignature, now time.Time) error
}

// Recorder receives run, gate and notification events for metrics.
type Recorder interface {
	RunStarted()
	RunFinished(status string, d time.Duration)
	SymbolProcessed(mode, status string)
	GateDecision(outcome string)
	NotificationSent(err error)
}

// Options tunes the service.
type Options struct {
	Concurrency           int
	RunTimeout            time.Duration
	AllowSingleDuringBulk bool
	FireTimes             []string // HH:MM in the market time zone
	RefreshInterval       time.Duration
}

// Deps are the collaborators of the service.
type Deps struct {
	Store    Store
	Fetcher  Fetcher
	Cache    *cache.QuoteCache
	Gate     Gate
	Notifier notify.Notifier
	Calendar *market.Calendar
	Recorder Recorder
}

// SingleResult is the outcome of a single-symbol update.
type SingleResult struct {
	Status models.SymbolStatus `json:"status"`
	Quote  *models.Quote       `json:"quote,omitempty"`
}

// Service coordinates refresh runs.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger

	state *RunState
	locks *KeyedMutex

	// bulkActive is set while a bulk pipeline is executing in this process.
	// A run whose status record expired keeps it set until it returns.
	bulkActive atomic.Bool

	statusMu     sync.RWMutex
	symbolStatus map[int64]models.SymbolStatus

	mu   sync.Mutex
	root context.Context
	cron *gocron.Scheduler
	wg   sync.WaitGroup

	now func() time.Time
}

// NewService wires a service. Call Recover before serving requests.
func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	logger = logging.WithComponent(logger, "scheduler")
	return &Service{
		deps:         deps,
		opts:         opts,
		logger:       logger,
		state:        NewRunState(deps.Store, opts.RunTimeout, logger),
		locks:        NewKeyedMutex(),
		symbolStatus: make(map[int64]models.SymbolStatus),
		root:         context.Background(),
		now:          time.Now,
	}
}

// Recover finishes a run left running by a previous process.
func (s *Service) Recover(ctx context.Context) error {
	rs, err := s.state.Recover(ctx, s.now())
	if err != nil {
		return apperrors.Wrap(err, "recovering run status")
	}
	s.logger.Info().Str("phase", string(rs.Phase)).Str("status", string(rs.StatusCode)).Msg("Run status loaded")
	return nil
}

// TriggerBulkUpdate starts a bulk run in the background. It returns false
// when a run is already in progress.
func (s *Service) TriggerBulkUpdate() bool {
	runID, ok := s.claimBulk(s.rootContext())
	if !ok {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeBulk(s.rootContext(), runID)
	}()
	return true
}

// RunBulk runs a bulk update synchronously.
func (s *Service) RunBulk(ctx context.Context) (models.RunStatus, error) {
	runID, ok := s.claimBulk(ctx)
	if !ok {
		return s.state.Snapshot(ctx, s.now()), apperrors.ErrRunInProgress
	}
	return s.executeBulk(ctx, runID), nil
}

// claimBulk takes the in-process guard and the persisted run lock.
func (s *Service) claimBulk(ctx context.Context) (string, bool) {
	if !s.bulkActive.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("Bulk run still executing, not starting another")
		return "", false
	}
	runID := uuid.NewString()
	if !s.state.TryStart(ctx, runID, s.now()) {
		s.bulkActive.Store(false)
		return "", false
	}
	return runID, true
}

// TriggerSingleUpdate refreshes one symbol, watched or archived. It does not
// touch the bulk run status. Cancelling ctx does not stop an update that
// has started; the provider call is bounded by its own timeout.
func (s *Service) TriggerSingleUpdate(ctx context.Context, symbolID int64) (SingleResult, error) {
	ctx = context.WithoutCancel(ctx)
	if !s.opts.AllowSingleDuringBulk && s.state.Running(ctx, s.now()) {
		return SingleResult{}, apperrors.ErrRunInProgress
	}

	sym, err := s.deps.Store.GetSymbol(ctx, symbolID)
	if err != nil {
		return SingleResult{}, err
	}

	out := s.processSymbol(ctx, *sym, modeSingle, s.logger)
	res := SingleResult{Status: out.status(s.now())}
	if q, ok := s.deps.Cache.Get(symbolID); ok && q.HasBody() {
		res.Quote = &q
	}
	return res, nil
}

// RunStatus returns the bulk run status, applying the run timeout.
func (s *Service) RunStatus(ctx context.Context) models.RunStatus {
	return s.state.Snapshot(ctx, s.now())
}

// ResetRunStatus force finishes the current run with manual_reset.
func (s *Service) ResetRunStatus(ctx context.Context) models.RunStatus {
	rs := s.state.Reset(ctx, s.now())
	s.logger.Warn().Str("run_id", rs.RunID).Msg("Run status reset")
	return rs
}

// SymbolStatus returns the latest per-symbol update outcome.
func (s *Service) SymbolStatus(symbolID int64) (models.SymbolStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.symbolStatus[symbolID]
	return st, ok
}

// LastUpdateEpoch returns the newest check time across cached quotes.
func (s *Service) LastUpdateEpoch() int64 {
	return s.deps.Cache.LastUpdateEpoch()
}

// Wait blocks until background runs have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) rootContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// executeBulk runs the pipeline to completion. RunTimeout only expires the
// status record; each provider call is bounded by the gateway timeout.
func (s *Service) executeBulk(ctx context.Context, runID string) models.RunStatus {
	defer s.bulkActive.Store(false)
	start := s.now()
	logger := logging.WithRun(s.logger, runID)
	s.deps.Recorder.RunStarted()

	logger.Info().Msg("Bulk run started")
	result := s.bulk(ctx, logger)

	finishCtx := context.WithoutCancel(ctx)
	s.state.Finish(finishCtx, runID, s.now(), result)

	elapsed := s.now().Sub(start)
	s.deps.Recorder.RunFinished(string(result.StatusCode), elapsed)
	logging.LogRun(logger, runID, string(result.StatusCode), result.OKCount, result.ErrCount, result.NotifiedCount, elapsed)
	return s.state.Snapshot(finishCtx, s.now())
}

func (s *Service) bulk(ctx context.Context, logger zerolog.Logger) models.RunStatus {
	symbols, err := s.deps.Store.ListWatchedSymbols(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list watched symbols")
		return models.RunStatus{ErrCount: 1, StatusCode: models.StatusPartial, Message: fmt.Sprintf("listing symbols: %v", err)}
	}
	if len(symbols) == 0 {
		return models.RunStatus{StatusCode: models.StatusOK, Message: "No symbols in watchlist"}
	}

	outcomes := make([]outcome, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			outcomes[i] = s.processSymbol(gctx, sym, modeBulk, logger)
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(outcomes)
}

type nopRecorder struct{}

func (nopRecorder) RunStarted()                       {}
func (nopRecorder) RunFinished(string, time.Duration) {}
func (nopRecorder) SymbolProcessed(string, string)    {}
func (nopRecorder) GateDecision(string)               {}
func (nopRecorder) NotificationSent(error)            {}
