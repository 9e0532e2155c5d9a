package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
	"stock-alert/pkg/utils"
)

// QuotesKey is the hash holding one JSON quote per symbol id.
const QuotesKey = "stockalert:quotes"

// RedisBackend stores quotes in Redis.
type RedisBackend struct {
	client redis.Cmdable
}

// connectRetry covers a Redis that starts alongside the service.
var connectRetry = utils.RetryConfig{
	MaxAttempts:   5,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      3 * time.Second,
	BackoffFactor: 2,
}

// NewRedisBackend connects to addr and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string, db int) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := ping(ctx, client, connectRetry); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisBackend{client: client}, nil
}

// ping waits for the server to answer, backing off between attempts.
func ping(ctx context.Context, client redis.Cmdable, cfg utils.RetryConfig) error {
	err := utils.Retry(ctx, cfg, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.Cmdable) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) SaveQuote(ctx context.Context, symbolID int64, q models.Quote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return apperrors.Wrap(err, "encoding quote")
	}
	return r.client.HSet(ctx, QuotesKey, strconv.FormatInt(symbolID, 10), string(data)).Err()
}

func (r *RedisBackend) LoadQuotes(ctx context.Context) (map[int64]models.Quote, error) {
	raw, err := r.client.HGetAll(ctx, QuotesKey).Result()
	if err != nil {
		return nil, err
	}

	quotes := make(map[int64]models.Quote, len(raw))
	for field, data := range raw {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			return nil, apperrors.Wrapf(err, "decoding quote for symbol %d", id)
		}
		quotes[id] = q
	}
	return quotes, nil
}

func (r *RedisBackend) DeleteQuote(ctx context.Context, symbolID int64) error {
	return r.client.HDel(ctx, QuotesKey, strconv.FormatInt(symbolID, 10)).Err()
}
