// Package stream fans alert events out to live subscribers such as the
// server-sent events endpoint.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"stock-alert/internal/models"
	"stock-alert/internal/notify"
)

// Event is one alert delivered to subscribers.
type Event struct {
	Type      string    `json:"type"`
	SymbolID  int64     `json:"symbol_id"`
	Ticker    string    `json:"ticker"`
	Signature string    `json:"signature"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	At        time.Time `json:"at"`
}

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{SubscriberBufferSize: 64}
}

type subscriber struct {
	ticker  string // empty receives every ticker
	ch      chan Event
	dropped uint64
}

// Hub distributes alert events to subscribers. Sends never block: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	config HubConfig
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	published uint64
	delivered uint64
	dropped   uint64
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config: config,
		now:    time.Now,
		subs:   make(map[*subscriber]struct{}),
	}
}

var _ notify.NotificationChannel = (*Hub)(nil)

func (h *Hub) Name() string { return "stream" }

func (h *Hub) IsEnabled() bool { return true }

// Send publishes an alert message. It implements notify.NotificationChannel
// so the hub receives exactly what the other channels deliver.
func (h *Hub) Send(_ context.Context, msg models.AlertMessage) error {
	h.Publish(Event{
		Type:      "alert",
		SymbolID:  msg.SymbolID,
		Ticker:    msg.Ticker,
		Signature: string(msg.Signature),
		Title:     notify.Plain(msg.Title),
		Body:      notify.Plain(msg.Body),
		At:        h.now().UTC(),
	})
	return nil
}

// Subscribe registers a subscriber for ticker, or for all tickers when
// ticker is empty. The returned cancel func unregisters it and closes the
// channel.
func (h *Hub) Subscribe(ticker string) (<-chan Event, func()) {
	sub := &subscriber{
		ticker: models.NormalizeTicker(ticker),
		ch:     make(chan Event, h.config.SubscriberBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.remove(sub) })
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ev Event) {
	atomic.AddUint64(&h.published, 1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.ticker != "" && sub.ticker != ev.Ticker {
			continue
		}
		select {
		case sub.ch <- ev:
			atomic.AddUint64(&h.delivered, 1)
		default:
			atomic.AddUint64(&sub.dropped, 1)
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

// Close unregisters all subscribers. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HubMetrics holds hub counters.
type HubMetrics struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Metrics returns a snapshot of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		Subscribers: h.SubscriberCount(),
		Published:   atomic.LoadUint64(&h.published),
		Delivered:   atomic.LoadUint64(&h.delivered),
		Dropped:     atomic.LoadUint64(&h.dropped),
	}
}
