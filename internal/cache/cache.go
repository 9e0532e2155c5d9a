// Package cache holds the latest quote per symbol in memory and writes it
// through to a durable backend.
package cache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/logging"
	"stock-alert/internal/models"
)

// Backend persists quotes.
type Backend interface {
	SaveQuote(ctx context.Context, symbolID int64, q models.Quote) error
	LoadQuotes(ctx context.Context) (map[int64]models.Quote, error)
	DeleteQuote(ctx context.Context, symbolID int64) error
}

// QuoteCache serves reads from memory. Reads never trigger a fetch.
type QuoteCache struct {
	mu      sync.RWMutex
	quotes  map[int64]models.Quote
	backend Backend
	logger  zerolog.Logger
}

// New creates an empty cache over backend.
func New(backend Backend, logger zerolog.Logger) *QuoteCache {
	return &QuoteCache{
		quotes:  make(map[int64]models.Quote),
		backend: backend,
		logger:  logging.WithComponent(logger, "cache"),
	}
}

// Warm replaces the in-memory snapshot with the backend contents.
func (c *QuoteCache) Warm(ctx context.Context) error {
	loaded, err := c.backend.LoadQuotes(ctx)
	if err != nil {
		return apperrors.Wrap(err, "warming quote cache")
	}

	c.mu.Lock()
	c.quotes = loaded
	if c.quotes == nil {
		c.quotes = make(map[int64]models.Quote)
	}
	c.mu.Unlock()

	c.logger.Info().Int("quotes", len(loaded)).Msg("Quote cache warmed")
	return nil
}

// Get returns a copy of the cached quote.
func (c *QuoteCache) Get(symbolID int64) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbolID]
	return q, ok
}

// Put overwrites the quote for symbolID. The in-memory copy is updated even
// when the backend write fails. Cancelling ctx does not abort the write.
func (c *QuoteCache) Put(ctx context.Context, symbolID int64, q models.Quote) error {
	c.mu.Lock()
	c.quotes[symbolID] = q
	c.mu.Unlock()

	if err := c.backend.SaveQuote(context.WithoutCancel(ctx), symbolID, q); err != nil {
		return apperrors.Wrapf(err, "persisting quote for symbol %d", symbolID)
	}
	return nil
}

// MarkFailedCheck records a failed attempt. The prior quote body is kept and
// only the check metadata changes.
func (c *QuoteCache) MarkFailedCheck(ctx context.Context, symbolID int64, epoch int64, note string, windowOpen bool) error {
	c.mu.Lock()
	q := c.quotes[symbolID]
	q.LastCheckEpoch = epoch
	q.LastCheckNote = note
	q.WindowOpen = windowOpen
	c.quotes[symbolID] = q
	c.mu.Unlock()

	if err := c.backend.SaveQuote(context.WithoutCancel(ctx), symbolID, q); err != nil {
		return apperrors.Wrapf(err, "persisting failed check for symbol %d", symbolID)
	}
	return nil
}

// Delete drops the quote for symbolID.
func (c *QuoteCache) Delete(ctx context.Context, symbolID int64) error {
	c.mu.Lock()
	delete(c.quotes, symbolID)
	c.mu.Unlock()

	return c.backend.DeleteQuote(ctx, symbolID)
}

// LastUpdateEpoch is the most recent check epoch across all symbols, or zero.
func (c *QuoteCache) LastUpdateEpoch() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest int64
	for _, q := range c.quotes {
		if q.LastCheckEpoch > latest {
			latest = q.LastCheckEpoch
		}
	}
	return latest
}

// Len reports the number of cached entries.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
