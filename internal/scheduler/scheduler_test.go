package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-alert/internal/cache"
	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/gate"
	"stock-alert/internal/market"
	"stock-alert/internal/models"
	"stock-alert/internal/store"
)

type fakeFetcher struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	block  chan struct{}
	delay  time.Duration
	calls  atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{prices: map[string]float64{}, errs: map[string]error{}}
}

func (f *fakeFetcher) set(ticker string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[ticker] = price
	delete(f.errs, ticker)
}

func (f *fakeFetcher) fail(ticker string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[ticker] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[ticker]; err != nil {
		return nil, err
	}
	return &models.Quote{Symbol: ticker, Price: f.prices[ticker], PrevClose: models.Float(100), Source: "fake"}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.AlertMessage
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg models.AlertMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) messages() []models.AlertMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.AlertMessage(nil), n.sent...)
}

type harness struct {
	svc      *Service
	db       *store.SQLiteStore
	fetcher  *fakeFetcher
	notifier *fakeNotifier
	cache    *cache.QuoteCache
	cal      *market.Calendar
	opts     Options
	now      time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	cal := market.NewCalendar(loc, weekdays, 8*60+30, 17*60)

	h := &harness{
		db:       db,
		fetcher:  newFakeFetcher(),
		notifier: &fakeNotifier{},
		cal:      cal,
		opts:     opts,
		now:      time.Date(2026, 10, 16, 10, 0, 0, 0, loc),
	}
	h.build()
	return h
}

// build wires a fresh service over a new cache and the same database.
func (h *harness) build() {
	h.cache = cache.New(h.db, zerolog.Nop())
	h.svc = NewService(Deps{
		Store:    h.db,
		Fetcher:  h.fetcher,
		Cache:    h.cache,
		Gate:     gate.New(h.cal, h.db, 15*time.Minute, zerolog.Nop()),
		Notifier: h.notifier,
		Calendar: h.cal,
	}, h.opts, zerolog.Nop())
	h.svc.now = func() time.Time { return h.now }
}

// restart simulates a process restart: new service, cache warmed from disk.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	h.build()
	require.NoError(t, h.cache.Warm(context.Background()))
	require.NoError(t, h.svc.Recover(context.Background()))
}

func (h *harness) addSymbol(t *testing.T, ticker string, rules ...models.AlertRule) models.Symbol {
	t.Helper()
	ctx := context.Background()
	sym, err := h.db.AddSymbol(ctx, ticker, models.GroupWatch)
	require.NoError(t, err)
	for _, r := range rules {
		r.SymbolID = sym.ID
		r.Enabled = true
		require.NoError(t, h.db.AddAlertRule(ctx, r))
	}
	return *sym
}

func TestService_BulkRunFiresOnCrossingOnly(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 2})
	ctx := context.Background()
	h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleAbove, Value: 150})
	h.addSymbol(t, "MSFT")

	h.fetcher.set("AAPL", 155)
	h.fetcher.set("MSFT", 400)

	rs, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, rs.Phase)
	assert.Equal(t, models.StatusOK, rs.StatusCode)
	assert.Equal(t, 2, rs.OKCount)
	assert.Equal(t, 0, rs.NotifiedCount)
	assert.Empty(t, h.notifier.messages(), "first fetch has no previous quote")

	h.fetcher.set("AAPL", 145)
	h.now = h.now.Add(time.Minute)
	_, err = h.svc.RunBulk(ctx)
	require.NoError(t, err)

	h.fetcher.set("AAPL", 151)
	h.now = h.now.Add(time.Minute)
	rs, err = h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.NotifiedCount)
	assert.Equal(t, "Updated 2 symbol(s), 0 error(s); notified 1", rs.Message)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RuleSignature("above:150"), msgs[0].Signature)

	h.now = h.now.Add(time.Minute)
	rs, err = h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.NotifiedCount, "staying above does not refire")
}

func TestService_CooldownSuppressesRecross(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sym := h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleAbove, Value: 150})

	for _, p := range []float64{145, 151, 149, 152} {
		h.fetcher.set("AAPL", p)
		_, err := h.svc.TriggerSingleUpdate(ctx, sym.ID)
		require.NoError(t, err)
		h.now = h.now.Add(time.Minute)
	}
	assert.Len(t, h.notifier.messages(), 1)
}

func TestService_FailuresAggregateByKind(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 4})
	ctx := context.Background()
	a := h.addSymbol(t, "AAPL")
	h.addSymbol(t, "MSFT")

	h.fetcher.set("AAPL", 150)
	_, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)

	limited := apperrors.NewProviderError("fake", "", apperrors.KindRateLimited, "quota exceeded", nil)
	h.fetcher.fail("AAPL", limited)
	h.fetcher.fail("MSFT", limited)
	h.now = h.now.Add(time.Minute)

	rs, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRateLimited, rs.StatusCode)
	assert.Equal(t, 2, rs.ErrCount)

	q, ok := h.cache.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, 150.0, q.Price, "failed check keeps the previous body")
	assert.Equal(t, h.now.Unix(), q.LastCheckEpoch)
	assert.Contains(t, q.LastCheckNote, "rate_limited")

	st, ok := h.svc.SymbolStatus(a.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusRateLimited, st.StatusCode)
	assert.Equal(t, "quota exceeded", st.Message)
}

func TestService_NotifyFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sym := h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleBelow, Value: 100})

	h.fetcher.set("AAPL", 105)
	_, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)

	h.notifier.err = errors.New("discord down")
	h.fetcher.set("AAPL", 99)
	h.now = h.now.Add(time.Minute)
	rs, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, rs.StatusCode)
	assert.Equal(t, 1, rs.OKCount)
	assert.Equal(t, 1, rs.ErrCount)

	rec, err := h.db.GetNotificationRecord(ctx, sym.ID, "below:100")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, h.now.Unix(), rec.LastFiredEpoch)
}

func TestService_EmptyWatchlist(t *testing.T) {
	h := newHarness(t, Options{})
	rs, err := h.svc.RunBulk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, rs.StatusCode)
	assert.Equal(t, int32(0), h.fetcher.calls.Load())
}

func TestService_SingleRejectedDuringBulk(t *testing.T) {
	h := newHarness(t, Options{RunTimeout: time.Hour})
	ctx := context.Background()
	sym := h.addSymbol(t, "AAPL")
	h.fetcher.set("AAPL", 150)

	require.True(t, h.svc.state.TryStart(ctx, "held", h.now))

	_, err := h.svc.TriggerSingleUpdate(ctx, sym.ID)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	_, err = h.svc.RunBulk(ctx)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)
	assert.False(t, h.svc.TriggerBulkUpdate())

	h.svc.opts.AllowSingleDuringBulk = true
	res, err := h.svc.TriggerSingleUpdate(ctx, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, res.Status.StatusCode)
	require.NotNil(t, res.Quote)
	assert.Equal(t, 150.0, res.Quote.Price)

	rs := h.svc.RunStatus(ctx)
	assert.Equal(t, "held", rs.RunID, "single update leaves run status alone")
	assert.True(t, rs.Running())
}

func TestService_SingleUpdateArchivedSymbol(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sym := h.addSymbol(t, "IBM")
	require.NoError(t, h.db.MoveSymbol(ctx, sym.ID, models.GroupArchived))
	h.fetcher.set("IBM", 200)

	res, err := h.svc.TriggerSingleUpdate(ctx, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, res.Status.StatusCode)

	_, err = h.svc.TriggerSingleUpdate(ctx, 9999)
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestService_TriggerBulkUpdateAsync(t *testing.T) {
	h := newHarness(t, Options{})
	h.addSymbol(t, "AAPL")
	h.fetcher.set("AAPL", 150)
	h.fetcher.block = make(chan struct{})

	require.True(t, h.svc.TriggerBulkUpdate())
	assert.False(t, h.svc.TriggerBulkUpdate(), "second trigger while running")
	assert.True(t, h.svc.RunStatus(context.Background()).Running())

	close(h.fetcher.block)
	h.svc.Wait()

	rs := h.svc.RunStatus(context.Background())
	assert.Equal(t, models.PhaseFinished, rs.Phase)
	assert.Equal(t, models.StatusOK, rs.StatusCode)
}

func TestService_RunTimeoutDoesNotAbortWork(t *testing.T) {
	h := newHarness(t, Options{Concurrency: 1, RunTimeout: 50 * time.Millisecond})
	for _, ticker := range []string{"AAPL", "MSFT", "NVDA", "AMD", "IBM"} {
		h.addSymbol(t, ticker)
		h.fetcher.set(ticker, 120)
	}
	h.fetcher.delay = 20 * time.Millisecond

	rs, err := h.svc.RunBulk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, rs.StatusCode)
	assert.Equal(t, 5, rs.OKCount)
	assert.Equal(t, 0, rs.ErrCount)
	assert.Equal(t, int32(5), h.fetcher.calls.Load())
}

func TestService_NoOverlapAfterStatusReset(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.addSymbol(t, "AAPL")
	h.fetcher.set("AAPL", 150)
	h.fetcher.block = make(chan struct{})

	require.True(t, h.svc.TriggerBulkUpdate())
	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	reset := h.svc.ResetRunStatus(ctx)
	assert.Equal(t, models.StatusManualReset, reset.StatusCode)
	assert.False(t, h.svc.TriggerBulkUpdate(), "previous pipeline is still executing")
	_, err := h.svc.RunBulk(ctx)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	close(h.fetcher.block)
	h.svc.Wait()
	assert.Equal(t, models.StatusManualReset, h.svc.RunStatus(ctx).StatusCode, "late finish does not overwrite the reset")

	rs, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, rs.StatusCode)
}

func TestService_SingleUpdateSurvivesCallerCancel(t *testing.T) {
	h := newHarness(t, Options{})
	sym := h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleAbove, Value: 150})

	h.fetcher.set("AAPL", 145)
	_, err := h.svc.TriggerSingleUpdate(context.Background(), sym.ID)
	require.NoError(t, err)

	h.fetcher.set("AAPL", 155)
	h.fetcher.block = make(chan struct{})
	h.now = h.now.Add(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(h.fetcher.block)
	}()

	res, err := h.svc.TriggerSingleUpdate(ctx, sym.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOK, res.Status.StatusCode)
	assert.Equal(t, 1, res.Status.Notified)

	durable, err := h.db.LoadQuotes(context.Background())
	require.NoError(t, err)
	require.Contains(t, durable, sym.ID)
	assert.Equal(t, 155.0, durable[sym.ID].Price)

	rec, err := h.db.GetNotificationRecord(context.Background(), sym.ID, "above:150")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestService_SameSymbolUpdatesSerializeFetch(t *testing.T) {
	h := newHarness(t, Options{})
	sym := h.addSymbol(t, "AAPL")
	h.fetcher.set("AAPL", 150)
	h.fetcher.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.svc.TriggerSingleUpdate(context.Background(), sym.ID)
		}()
	}

	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.fetcher.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second fetch waits for the symbol lock")

	close(h.fetcher.block)
	wg.Wait()
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
}

func TestService_RestartDoesNotRefire(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleAbove, Value: 150})

	h.fetcher.set("AAPL", 145)
	_, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	h.fetcher.set("AAPL", 155)
	h.now = h.now.Add(time.Minute)
	_, err = h.svc.RunBulk(ctx)
	require.NoError(t, err)
	require.Len(t, h.notifier.messages(), 1)

	h.restart(t)
	h.now = h.now.Add(time.Hour)

	rs, err := h.svc.RunBulk(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.NotifiedCount, "warmed baseline is already above the threshold")
	assert.Len(t, h.notifier.messages(), 1)
}

func TestService_ThresholdChangeFiresNewSignature(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sym := h.addSymbol(t, "AAPL", models.AlertRule{Type: models.RuleAbove, Value: 150})

	for _, p := range []float64{145, 155} {
		h.fetcher.set("AAPL", p)
		_, err := h.svc.RunBulk(ctx)
		require.NoError(t, err)
		h.now = h.now.Add(time.Minute)
	}
	require.Len(t, h.notifier.messages(), 1)

	require.NoError(t, h.db.ReplaceAlertRules(ctx, sym.ID, []models.AlertRule{
		{SymbolID: sym.ID, Type: models.RuleAbove, Value: 160, Enabled: true},
	}))

	for _, p := range []float64{158, 161} {
		h.fetcher.set("AAPL", p)
		_, err := h.svc.RunBulk(ctx)
		require.NoError(t, err)
		h.now = h.now.Add(time.Minute)
	}

	msgs := h.notifier.messages()
	require.Len(t, msgs, 2, "new threshold is not held back by the old record's cooldown")
	assert.Equal(t, models.RuleSignature("above:160"), msgs[1].Signature)
}

func TestRunState_Lifecycle(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	rs := NewRunState(h.db, 10*time.Minute, zerolog.Nop())
	now := h.now

	require.True(t, rs.TryStart(ctx, "r1", now))
	assert.False(t, rs.TryStart(ctx, "r2", now))

	assert.False(t, rs.Finish(ctx, "other", now, models.RunStatus{StatusCode: models.StatusOK}))
	require.True(t, rs.Finish(ctx, "r1", now.Add(time.Minute), models.RunStatus{OKCount: 3, StatusCode: models.StatusOK, Message: "done"}))

	snap := rs.Snapshot(ctx, now)
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.Equal(t, 3, snap.OKCount)

	persisted, err := h.db.LoadRunStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r1", persisted.RunID)
	assert.Equal(t, models.StatusOK, persisted.StatusCode)

	require.True(t, rs.TryStart(ctx, "r2", now.Add(2*time.Minute)), "finished run can restart")
}

func TestRunState_Timeout(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	rs := NewRunState(h.db, 10*time.Minute, zerolog.Nop())

	require.True(t, rs.TryStart(ctx, "slow", h.now))
	snap := rs.Snapshot(ctx, h.now.Add(11*time.Minute))
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.Equal(t, models.StatusInterruptedTimeout, snap.StatusCode)

	assert.False(t, rs.Finish(ctx, "slow", h.now.Add(12*time.Minute), models.RunStatus{StatusCode: models.StatusOK}))
	assert.Equal(t, models.StatusInterruptedTimeout, rs.Snapshot(ctx, h.now).StatusCode)
}

func TestRunState_RecoverAndReset(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	started := h.now
	require.NoError(t, h.db.SaveRunStatus(ctx, models.RunStatus{RunID: "crashed", Phase: models.PhaseRunning, StartedAt: &started}))

	rs := NewRunState(h.db, 0, zerolog.Nop())
	got, err := rs.Recover(ctx, h.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFinished, got.Phase)
	assert.Equal(t, models.StatusInterrupted, got.StatusCode)

	require.True(t, rs.TryStart(ctx, "stuck", h.now))
	reset := rs.Reset(ctx, h.now)
	assert.Equal(t, models.StatusManualReset, reset.StatusCode)
	assert.False(t, reset.Running())
}

func TestAggregate(t *testing.T) {
	rate := apperrors.NewProviderError("p", "A", apperrors.KindRateLimited, "", nil)
	netErr := apperrors.NewProviderError("p", "B", apperrors.KindNetwork, "", nil)

	tests := []struct {
		name     string
		outcomes []outcome
		want     models.StatusCode
		errCount int
	}{
		{"all ok", []outcome{{}, {notified: 2}}, models.StatusOK, 0},
		{"single kind with successes", []outcome{{}, {err: rate, kind: apperrors.KindRateLimited}}, models.StatusRateLimited, 1},
		{"mixed kinds", []outcome{{err: rate, kind: apperrors.KindRateLimited}, {err: netErr, kind: apperrors.KindNetwork}}, models.StatusPartial, 2},
		{"notify failure only", []outcome{{notifyFailures: 1}}, models.StatusPartial, 1},
		{"kind plus notify failure", []outcome{{err: rate, kind: apperrors.KindRateLimited}, {notifyFailures: 1}}, models.StatusPartial, 2},
		{"unknown kind", []outcome{{err: errors.New("boom"), kind: apperrors.KindUnknown}}, models.StatusPartial, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := aggregate(tt.outcomes)
			assert.Equal(t, tt.want, rs.StatusCode)
			assert.Equal(t, tt.errCount, rs.ErrCount)
		})
	}
}

func TestStatusCodeFor(t *testing.T) {
	assert.Equal(t, models.StatusAuthMissing, StatusCodeFor(apperrors.KindAuthMissing))
	assert.Equal(t, models.StatusMarketClosed, StatusCodeFor(apperrors.KindMarketClosed))
	assert.Equal(t, models.StatusNotFound, StatusCodeFor(apperrors.KindNotFound))
	assert.Equal(t, models.StatusPartial, StatusCodeFor(apperrors.KindUnknown))
}

func TestKeyedMutex_SerializesAndCleansUp(t *testing.T) {
	km := NewKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(7)
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, km.size())
}

func TestService_StartDisabled(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.svc.Start(context.Background()))
	assert.True(t, h.svc.NextRun().IsZero())
	h.svc.Stop()
}

func TestService_StartWithFireTimes(t *testing.T) {
	h := newHarness(t, Options{FireTimes: []string{"09:35", "15:55"}})
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()
	assert.False(t, h.svc.NextRun().IsZero())
}
