package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stock-alert/internal/alerts"
	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/health"
	"stock-alert/internal/models"
	"stock-alert/internal/store"
)

// respondError maps domain errors to status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	var ve *apperrors.ValidationError
	switch {
	case apperrors.Is(err, apperrors.ErrSymbolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_detail": err.Error()})
	case apperrors.Is(err, apperrors.ErrSymbolExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "error_detail": err.Error()})
	case apperrors.Is(err, apperrors.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
	case apperrors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_" + ve.Field, "error_detail": ve.Message})
	default:
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func (s *Server) formatEpoch(epoch int64) string {
	return time.Unix(epoch, 0).In(s.deps.Calendar.Location()).Format("2006-01-02 15:04:05 MST")
}

// GET /api/health
func (s *Server) getHealth(c *gin.Context) {
	payload := gin.H{
		"ok":               true,
		"provider":         s.deps.Provider,
		"market_tz":        s.deps.Calendar.Location().String(),
		"cooldown_minutes": int(s.deps.Config.Alerts.Cooldown / time.Minute),
	}
	code := http.StatusOK
	if s.deps.Health != nil {
		sys := s.deps.Health.Run(c.Request.Context())
		payload["health"] = sys
		if sys.Status == health.StatusUnhealthy {
			payload["ok"] = false
			code = http.StatusServiceUnavailable
		}
	}
	c.JSON(code, payload)
}

// GET /api/last_update
func (s *Server) getLastUpdate(c *gin.Context) {
	tz := s.deps.Calendar.Location().String()
	epoch := s.deps.Cache.LastUpdateEpoch()
	if epoch == 0 {
		c.JSON(http.StatusOK, gin.H{"epoch": nil, "text": "—", "timezone": tz})
		return
	}
	c.JSON(http.StatusOK, gin.H{"epoch": epoch, "text": s.formatEpoch(epoch), "timezone": tz})
}

// POST /api/update_symbol/:id
func (s *Server) updateSymbol(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	// A client disconnect must not abort the update half way.
	res, err := s.deps.Scheduler.TriggerSingleUpdate(context.WithoutCancel(c.Request.Context()), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if res.Status.StatusCode != models.StatusOK {
		c.JSON(http.StatusOK, gin.H{"status": "error", "error": res.Status.StatusCode, "error_detail": res.Status.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "notified": res.Status.Notified, "quote": res.Quote})
}

// POST /api/update_all
func (s *Server) updateAll(c *gin.Context) {
	if !s.deps.Scheduler.TriggerBulkUpdate() {
		c.JSON(http.StatusOK, gin.H{"status": "already_running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

type runStatusResponse struct {
	models.RunStatus
	StartedText  *string `json:"started_text"`
	FinishedText *string `json:"finished_text"`
}

func (s *Server) runStatusPayload(rs models.RunStatus) runStatusResponse {
	out := runStatusResponse{RunStatus: rs}
	if rs.StartedAt != nil {
		t := s.formatEpoch(rs.StartedAt.Unix())
		out.StartedText = &t
	}
	if rs.FinishedAt != nil {
		t := s.formatEpoch(rs.FinishedAt.Unix())
		out.FinishedText = &t
	}
	return out
}

// GET /api/run_status
func (s *Server) getRunStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.runStatusPayload(s.deps.Scheduler.RunStatus(c.Request.Context())))
}

// POST /api/run_status/reset
func (s *Server) resetRunStatus(c *gin.Context) {
	rs := s.deps.Scheduler.ResetRunStatus(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "ok", "run_status": s.runStatusPayload(rs)})
}

// quoteResponse is a cached quote. Provider data is never fetched here.
type quoteResponse struct {
	*models.Quote
	Symbol          string `json:"symbol"`
	Source          string `json:"source"`
	Provider        string `json:"provider,omitempty"`
	Cached          bool   `json:"cached"`
	ServerTZ        string `json:"server_tz"`
	CooldownMinutes int    `json:"cooldown_minutes"`
}

func (s *Server) quotePayload(sym *models.Symbol) quoteResponse {
	out := quoteResponse{
		Symbol:          sym.Ticker,
		Source:          "cache_only",
		ServerTZ:        s.deps.Calendar.Location().String(),
		CooldownMinutes: int(s.deps.Config.Alerts.Cooldown / time.Minute),
	}
	if q, ok := s.deps.Cache.Get(sym.ID); ok {
		q.DeriveChange()
		out.Quote = &q
		out.Provider = q.Source
		out.Cached = true
	}
	return out
}

// GET /api/quote/:id
func (s *Server) getQuote(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sym, err := s.deps.Store.GetSymbol(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.quotePayload(sym))
}

// GET /api/quote_by_ticker/:ticker
func (s *Server) getQuoteByTicker(c *gin.Context) {
	sym, err := s.deps.Store.GetSymbolByTicker(c.Request.Context(), models.NormalizeTicker(c.Param("ticker")))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.quotePayload(sym))
}

// GET /api/symbols?q=&scope=watch|archived|all&min_rating=
func (s *Server) listSymbols(c *gin.Context) {
	filter := store.SymbolFilter{Query: c.Query("q")}
	switch strings.ToLower(c.DefaultQuery("scope", "watch")) {
	case "all":
	case "archived":
		filter.Group = models.GroupArchived
	default:
		filter.Group = models.GroupWatch
	}
	if v := c.Query("min_rating"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_min_rating"})
			return
		}
		filter.MinRating = n
	}

	symbols, err := s.deps.Store.ListSymbols(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, symbols)
}

// GET /api/symbols_by_group
func (s *Server) symbolsByGroup(c *gin.Context) {
	ctx := c.Request.Context()
	watch, err := s.deps.Store.ListSymbols(ctx, store.SymbolFilter{Group: models.GroupWatch})
	if err != nil {
		s.respondError(c, err)
		return
	}
	archived, err := s.deps.Store.ListSymbols(ctx, store.SymbolFilter{Group: models.GroupArchived})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"watch": watch, "archived": archived})
}

type addSymbolRequest struct {
	Ticker string `json:"ticker" binding:"required"`
	Group  string `json:"group"`
}

// POST /api/symbols
func (s *Server) addSymbol(c *gin.Context) {
	var req addSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_detail": err.Error()})
		return
	}
	ticker := models.NormalizeTicker(req.Ticker)
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ticker"})
		return
	}
	group, _ := models.ParseGroup(req.Group)

	ctx := c.Request.Context()
	sym, err := s.deps.Store.AddSymbol(ctx, ticker, group)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if rule, ok := alerts.DefaultEarningsRule(sym.ID, s.deps.Config.Alerts.EarningsDefaultDays); ok {
		if err := s.deps.Store.AddAlertRule(ctx, rule); err != nil {
			s.logger.Warn().Err(err).Str("symbol", ticker).Msg("Failed to seed default earnings reminder")
		}
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "symbol": sym})
}

type symbolResponse struct {
	models.Symbol
	Description     *string `json:"description"`
	NextEarningsDay *string `json:"next_earning_day"`
}

// GET /api/symbols/:id
func (s *Server) getSymbol(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sym, err := s.deps.Store.GetSymbol(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := symbolResponse{Symbol: *sym}
	if q, ok := s.deps.Cache.Get(id); ok {
		if q.Description != "" {
			out.Description = &q.Description
		}
		if q.NextEarningsDay != "" {
			out.NextEarningsDay = &q.NextEarningsDay
		}
	}
	c.JSON(http.StatusOK, out)
}

// DELETE /api/symbols/:id
func (s *Server) deleteSymbol(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.deps.Store.DeleteSymbol(ctx, id); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.deps.Cache.Delete(ctx, id); err != nil {
		s.logger.Warn().Err(err).Int64("symbol_id", id).Msg("Failed to drop cached quote")
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// POST /api/symbols/:id/move
func (s *Server) moveSymbol(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Group string `json:"group"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	group, valid := models.ParseGroup(req.Group)
	if !valid || strings.TrimSpace(req.Group) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_group"})
		return
	}
	if err := s.deps.Store.MoveSymbol(c.Request.Context(), id, group); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "moved_to": group})
}

// POST /api/note/:id
func (s *Server) updateNote(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Note string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := s.deps.Store.SetNote(c.Request.Context(), id, req.Note); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "last_edit_epoch": s.now().Unix()})
}

// POST /api/rating/:id
func (s *Server) updateRating(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Rating *int `json:"rating"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rating"})
		return
	}
	if err := s.deps.Store.SetRating(c.Request.Context(), id, *req.Rating); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rating": *req.Rating})
}

// GET /api/alerts/:id
func (s *Server) getAlerts(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rules, err := s.deps.Store.GetAlertRules(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rules == nil {
		rules = []models.AlertRule{}
	}
	c.JSON(http.StatusOK, rules)
}

// saveAlertsRequest replaces the whole rule set. A missing earn_days falls
// back to the configured default reminder.
type saveAlertsRequest struct {
	Above    *float64  `json:"above"`
	Below    *float64  `json:"below"`
	PctDrop  []float64 `json:"pct_drop"`
	PctJump  []float64 `json:"pct_jump"`
	EarnDays *int      `json:"earn_days"`
}

func (r saveAlertsRequest) rules(defaultEarnDays int) []models.AlertRule {
	var out []models.AlertRule
	add := func(t models.RuleType, v float64) {
		out = append(out, models.AlertRule{Type: t, Value: v, Enabled: true})
	}
	if r.Above != nil {
		add(models.RuleAbove, *r.Above)
	}
	if r.Below != nil {
		add(models.RuleBelow, *r.Below)
	}
	for _, p := range r.PctDrop {
		add(models.RulePctDrop, p)
	}
	for _, p := range r.PctJump {
		add(models.RulePctJump, p)
	}
	switch {
	case r.EarnDays != nil:
		add(models.RuleEarningsReminder, float64(*r.EarnDays))
	case defaultEarnDays >= 0:
		add(models.RuleEarningsReminder, float64(defaultEarnDays))
	}
	return out
}

// POST /api/alerts/:id
func (s *Server) saveAlerts(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req saveAlertsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_detail": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.deps.Store.GetSymbol(ctx, id); err != nil {
		s.respondError(c, err)
		return
	}
	if err := s.deps.Store.ReplaceAlertRules(ctx, id, req.rules(s.deps.Config.Alerts.EarningsDefaultDays)); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved", "last_edit_epoch": s.now().Unix()})
}
