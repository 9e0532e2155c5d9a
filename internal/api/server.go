// Package api exposes the watchlist, quote cache and refresh runs over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"stock-alert/internal/cache"
	"stock-alert/internal/config"
	"stock-alert/internal/health"
	"stock-alert/internal/logging"
	"stock-alert/internal/market"
	"stock-alert/internal/metrics"
	"stock-alert/internal/scheduler"
	"stock-alert/internal/store"
	"stock-alert/internal/stream"
)

// Deps are the collaborators the handlers need.
type Deps struct {
	Store     store.DataStore
	Scheduler *scheduler.Service
	Cache     *cache.QuoteCache
	Calendar  *market.Calendar
	Metrics   *metrics.Registry
	Health    *health.Checker
	Config    *config.Config
	Provider  string
	Events    *stream.Hub // optional live alert feed
}

// Server is the HTTP front end.
type Server struct {
	deps   Deps
	router *gin.Engine
	logger zerolog.Logger
	now    func() time.Time
}

// NewServer builds the router.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:   deps,
		router: gin.New(),
		logger: logging.WithComponent(logger, "api"),
		now:    time.Now,
	}
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger(s.logger))
	s.routes()
	return s
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/health", s.getHealth)
		api.GET("/last_update", s.getLastUpdate)

		api.POST("/update_symbol/:id", s.updateSymbol)
		api.POST("/update_all", s.updateAll)
		api.GET("/run_status", s.getRunStatus)
		api.POST("/run_status/reset", s.resetRunStatus)

		api.GET("/quote/:id", s.getQuote)
		api.GET("/quote_by_ticker/:ticker", s.getQuoteByTicker)

		api.GET("/symbols", s.listSymbols)
		api.POST("/symbols", s.addSymbol)
		api.GET("/symbols_by_group", s.symbolsByGroup)
		api.GET("/symbols/:id", s.getSymbol)
		api.DELETE("/symbols/:id", s.deleteSymbol)
		api.POST("/symbols/:id/move", s.moveSymbol)
		api.POST("/note/:id", s.updateNote)
		api.POST("/rating/:id", s.updateRating)
		api.GET("/alerts/:id", s.getAlerts)
		api.POST("/alerts/:id", s.saveAlerts)

		if s.deps.Events != nil {
			api.GET("/events", s.streamEvents)
		}
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Event streams never finish on their own.
	if s.deps.Events != nil {
		s.deps.Events.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

// requestLogger logs failed or slow requests.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/api/health" || path == "/metrics" || path == "/api/events" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 || duration > time.Second {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration).
			Msg("HTTP request")
	}
}
