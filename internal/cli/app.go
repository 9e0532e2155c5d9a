package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stock-alert/internal/cache"
	"stock-alert/internal/gate"
	"stock-alert/internal/health"
	"stock-alert/internal/market"
	"stock-alert/internal/metrics"
	"stock-alert/internal/notify"
	"stock-alert/internal/quote"
	"stock-alert/internal/scheduler"
	"stock-alert/internal/store"
	"stock-alert/internal/stream"
)

// Runtime is the wired service graph used by commands that touch quotes.
type Runtime struct {
	Store     *store.SQLiteStore
	Cache     *cache.QuoteCache
	Calendar  *market.Calendar
	Gateway   *quote.Gateway
	Notifier  *notify.MultiNotifier
	Metrics   *metrics.Registry
	Events    *stream.Hub
	Scheduler *scheduler.Service
}

// openStore opens the SQLite database named in the config.
func (a *App) openStore() (*store.SQLiteStore, error) {
	path := a.Config.Storage.DBPath
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return store.NewSQLiteStore(path)
}

// openCache builds the quote cache over the configured backend and warms it.
func (a *App) openCache(ctx context.Context, st *store.SQLiteStore) (*cache.QuoteCache, error) {
	var backend cache.Backend = st
	if a.Config.Cache.Backend == "redis" {
		rb, err := cache.NewRedisBackend(ctx, a.Config.Cache.Redis.Addr, a.Config.Cache.Redis.Password, a.Config.Cache.Redis.DB)
		if err != nil {
			return nil, err
		}
		backend = rb
	}
	qc := cache.New(backend, a.Logger)
	if err := qc.Warm(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to warm quote cache")
	}
	return qc, nil
}

// openRuntime wires store, cache, provider gateway, gate, notifiers and the
// scheduler. extra channels are added to the configured notifiers.
func (a *App) openRuntime(ctx context.Context, extra ...notify.NotificationChannel) (*Runtime, error) {
	cfg := a.Config
	logger := a.Logger

	st, err := a.openStore()
	if err != nil {
		return nil, err
	}

	qc, err := a.openCache(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}

	cal, err := market.NewCalendarFromConfig(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	reg := metrics.NewRegistry()

	provider, err := quote.NewFromConfig(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	gw := quote.NewGateway(provider, quote.GatewayConfig{
		Timeout:       cfg.Provider.Timeout,
		MinInterval:   cfg.Provider.MinInterval,
		QuotaTrip:     cfg.Provider.QuotaTrip,
		QuotaCooldown: cfg.Provider.QuotaCooldown,
	}, logger, quote.WithObserver(reg))

	notifier := notify.NewMultiNotifier(&cfg.Notifications, logger)
	events := stream.NewHub()
	notifier.AddChannel(events)
	for _, ch := range extra {
		notifier.AddChannel(ch)
	}

	opts := scheduler.Options{
		Concurrency:           cfg.Scheduler.Concurrency,
		RunTimeout:            cfg.Scheduler.RunTimeout,
		AllowSingleDuringBulk: cfg.Scheduler.AllowSingleDuringBulk,
	}
	if cfg.Scheduler.Enabled {
		opts.FireTimes = cfg.Scheduler.FireTimes
		opts.RefreshInterval = cfg.Scheduler.RefreshInterval
	}

	svc := scheduler.NewService(scheduler.Deps{
		Store:    st,
		Fetcher:  gw,
		Cache:    qc,
		Gate:     gate.New(cal, st, cfg.Alerts.Cooldown, logger),
		Notifier: notifier,
		Calendar: cal,
		Recorder: reg,
	}, opts, logger)
	if err := svc.Recover(ctx); err != nil {
		st.Close()
		return nil, err
	}

	logger.Debug().
		Str("provider", provider.Name()).
		Bool("provider_ready", gw.Ready()).
		Strs("channels", notifier.Channels()).
		Msg("Runtime initialized")

	return &Runtime{
		Store:     st,
		Cache:     qc,
		Calendar:  cal,
		Gateway:   gw,
		Notifier:  notifier,
		Metrics:   reg,
		Events:    events,
		Scheduler: svc,
	}, nil
}

// HealthChecker registers the runtime components.
func (r *Runtime) HealthChecker(runTimeout time.Duration) *health.Checker {
	checker := health.NewChecker(5 * time.Second)
	checker.Register("database", health.DatabaseCheck(r.Store.Ping))
	checker.Register("provider", health.ProviderCheck(r.Gateway.Provider().Name(), r.Gateway.Ready))
	checker.Register("scheduler", health.SchedulerCheck(func() (bool, time.Time) {
		rs := r.Scheduler.RunStatus(context.Background())
		if rs.StartedAt == nil {
			return rs.Running(), time.Time{}
		}
		return rs.Running(), *rs.StartedAt
	}, runTimeout))
	return checker
}

// Close stops background work and closes the database.
func (r *Runtime) Close() error {
	r.Scheduler.Stop()
	r.Events.Close()
	return r.Store.Close()
}
