package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github/itish2003/visiondoc/config"
	"github/itish2003/visiondoc/logger"
	"github/itish2003/visiondoc/models"
)

// AnswerCache stores answers per index generation.
type AnswerCache interface {
	Get(ctx context.Context, generation, question string) (*models.QueryResult, bool, error)
	Set(ctx context.Context, generation, question string, result *models.QueryResult) error
	Close() error
}

// New returns a Redis cache when enabled, otherwise a no-op.
func New(ctx context.Context, cfg config.CacheConfig) (AnswerCache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewRedis(ctx, cfg)
}

// Noop never hits.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string, string) (*models.QueryResult, bool, error) {
	return nil, false, nil
}

// Set discards the answer.
func (Noop) Set(context.Context, string, string, *models.QueryResult) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }

// Redis caches serialized QueryResults with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ AnswerCache = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	logger.For("cache").WithField("address", cfg.Address).Info("Connected to redis")
	return &Redis{client: rdb, ttl: cfg.TTL}, nil
}

// Get returns a cached answer. A miss is not an error.
func (r *Redis) Get(ctx context.Context, generation, question string) (*models.QueryResult, bool, error) {
	raw, err := r.client.Get(ctx, Key(generation, question)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	var res models.QueryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("corrupt cached answer: %w", err)
	}
	return &res, true, nil
}

// Set stores the answer for the configured TTL.
func (r *Redis) Set(ctx context.Context, generation, question string, result *models.QueryResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	if err := r.client.Set(ctx, Key(generation, question), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Key scopes a normalised question to one generation.
func Key(generation, question string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(norm))
	return "visiondoc:answer:" + generation + ":" + hex.EncodeToString(sum[:])
}
