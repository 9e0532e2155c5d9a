package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-alert/internal/cache"
	"stock-alert/internal/config"
	"stock-alert/internal/gate"
	"stock-alert/internal/health"
	"stock-alert/internal/market"
	"stock-alert/internal/metrics"
	"stock-alert/internal/models"
	"stock-alert/internal/notify"
	"stock-alert/internal/scheduler"
	"stock-alert/internal/store"
	"stock-alert/internal/stream"
)

type staticFetcher struct {
	price   float64
	release chan struct{}
}

func (f staticFetcher) Fetch(_ context.Context, ticker string) (*models.Quote, error) {
	if f.release != nil {
		<-f.release
	}
	return &models.Quote{Symbol: ticker, Price: f.price, PrevClose: models.Float(f.price - 2), Source: "static"}, nil
}

type testEnv struct {
	srv *Server
	db  *store.SQLiteStore
	svc *scheduler.Service
	hub *stream.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithFetcher(t, staticFetcher{price: 123.45})
}

func newTestEnvWithFetcher(t *testing.T, fetcher scheduler.Fetcher) *testEnv {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Alerts.EarningsDefaultDays = 1
	cfg.Alerts.Cooldown = 15 * time.Minute

	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	cal := market.NewCalendar(loc, weekdays, 8*60+30, 17*60)
	qc := cache.New(db, zerolog.Nop())
	reg := metrics.NewRegistry()

	svc := scheduler.NewService(scheduler.Deps{
		Store:    db,
		Fetcher:  fetcher,
		Cache:    qc,
		Gate:     gate.New(cal, db, cfg.Alerts.Cooldown, zerolog.Nop()),
		Notifier: notify.NewNoOpNotifier(),
		Calendar: cal,
		Recorder: reg,
	}, scheduler.Options{Concurrency: 2}, zerolog.Nop())

	hub := stream.NewHub()
	checker := health.NewChecker(time.Second)
	checker.Register("database", health.DatabaseCheck(db.Ping))

	srv := NewServer(Deps{
		Store:     db,
		Scheduler: svc,
		Cache:     qc,
		Calendar:  cal,
		Metrics:   reg,
		Health:    checker,
		Config:    cfg,
		Provider:  "static",
		Events:    hub,
	}, zerolog.Nop())
	return &testEnv{srv: srv, db: db, svc: svc, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (e *testEnv) addSymbol(t *testing.T, ticker string) int64 {
	t.Helper()
	rec, out := e.do(t, http.MethodPost, "/api/symbols", map[string]string{"ticker": ticker})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sym := out["symbol"].(map[string]interface{})
	return int64(sym["id"].(float64))
}

func TestAddSymbol_SeedsEarningsReminder(t *testing.T) {
	env := newTestEnv(t)
	id := env.addSymbol(t, " aapl ")

	rules, err := env.db.GetAlertRules(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, models.RuleEarningsReminder, rules[0].Type)
	assert.Equal(t, 1.0, rules[0].Value)

	rec, _ := env.do(t, http.MethodPost, "/api/symbols", map[string]string{"ticker": "AAPL"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/symbols", map[string]string{"ticker": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuote_CacheOnly(t *testing.T) {
	env := newTestEnv(t)
	id := env.addSymbol(t, "MSFT")

	rec, out := env.do(t, http.MethodGet, "/api/quote/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["cached"])
	assert.Equal(t, "cache_only", out["source"])
	assert.Equal(t, "MSFT", out["symbol"])

	rec, out = env.do(t, http.MethodPost, "/api/update_symbol/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = env.do(t, http.MethodGet, "/api/quote_by_ticker/msft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["cached"])
	assert.Equal(t, 123.45, out["price"])
	assert.Equal(t, "static", out["provider"])
	assert.InDelta(t, 2.0, out["change"], 1e-9)

	rec, out = env.do(t, http.MethodGet, "/api/last_update", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, out["epoch"])
	assert.Equal(t, "America/New_York", out["timezone"])
}

func TestQuote_UnknownSymbol(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/api/quote/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", out["error"])

	rec, _ = env.do(t, http.MethodGet, "/api/quote/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAll_StartsBackgroundRun(t *testing.T) {
	env := newTestEnv(t)
	env.addSymbol(t, "AAPL")
	env.addSymbol(t, "IBM")

	rec, out := env.do(t, http.MethodPost, "/api/update_all", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", out["status"])
	env.svc.Wait()

	rec, out = env.do(t, http.MethodGet, "/api/run_status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "finished", out["phase"])
	assert.Equal(t, "ok", out["status_code"])
	assert.Equal(t, 2.0, out["ok_count"])
	assert.NotNil(t, out["finished_text"])

	rec, out = env.do(t, http.MethodPost, "/api/run_status/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rs := out["run_status"].(map[string]interface{})
	assert.Equal(t, "manual_reset", rs["status_code"])
}

func TestSymbols_Mutations(t *testing.T) {
	env := newTestEnv(t)
	id := env.addSymbol(t, "TSLA")
	path := itoa(id)

	rec, _ := env.do(t, http.MethodPost, "/api/symbols/"+path+"/move", map[string]string{"group": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := env.do(t, http.MethodPost, "/api/symbols/"+path+"/move", map[string]string{"group": "archived"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archived", out["moved_to"])

	rec, out = env.do(t, http.MethodGet, "/api/symbols_by_group", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["watch"], 0)
	assert.Len(t, out["archived"], 1)

	rec, _ = env.do(t, http.MethodPost, "/api/rating/"+path, map[string]int{"rating": 7})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = env.do(t, http.MethodPost, "/api/rating/"+path, map[string]int{"rating": 4})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4.0, out["rating"])

	rec, _ = env.do(t, http.MethodPost, "/api/note/"+path, map[string]string{"note": "watch earnings"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, out = env.do(t, http.MethodGet, "/api/symbols/"+path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "watch earnings", out["note"])
	assert.Equal(t, 4.0, out["rating"])

	rec, _ = env.do(t, http.MethodDelete, "/api/symbols/"+path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/symbols/"+path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveAlerts_ReplacesRuleSet(t *testing.T) {
	env := newTestEnv(t)
	id := env.addSymbol(t, "NVDA")

	body := map[string]interface{}{"above": 150.5, "pct_drop": []float64{3, 5}, "earn_days": 3}
	rec, out := env.do(t, http.MethodPost, "/api/alerts/"+itoa(id), body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "saved", out["status"])

	rules, err := env.db.GetAlertRules(context.Background(), id)
	require.NoError(t, err)
	sigs := make([]string, 0, len(rules))
	for _, r := range rules {
		sigs = append(sigs, string(r.Signature()))
	}
	assert.ElementsMatch(t, []string{"above:150.5", "pct_drop:3", "pct_drop:5", "earnings_reminder:3"}, sigs)

	rec, _ = env.do(t, http.MethodPost, "/api/alerts/999", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveAlertsRequest_DefaultEarnDays(t *testing.T) {
	req := saveAlertsRequest{Below: models.Float(90)}

	rules := req.rules(2)
	require.Len(t, rules, 2)
	assert.Equal(t, models.RuleSignature("earnings_reminder:2"), rules[1].Signature())

	assert.Len(t, req.rules(-1), 1, "negative default disables the reminder")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec, out := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "static", out["provider"])
	assert.Equal(t, 15.0, out["cooldown_minutes"])

	rec, _ = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestUpdateAll_AlreadyRunning(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnvWithFetcher(t, staticFetcher{price: 10, release: release})
	env.addSymbol(t, "AAPL")

	rec, out := env.do(t, http.MethodPost, "/api/update_all", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", out["status"])

	rec, out = env.do(t, http.MethodPost, "/api/update_all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "already_running", out["status"])

	close(release)
	env.svc.Wait()
}

func TestUpdateSymbol_ClientGoneStillPersists(t *testing.T) {
	env := newTestEnv(t)
	id := env.addSymbol(t, "NVDA")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/update_symbol/"+itoa(id), nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	quotes, err := env.db.LoadQuotes(context.Background())
	require.NoError(t, err)
	require.Contains(t, quotes, id)
	assert.Equal(t, 123.45, quotes[id].Price)
}
