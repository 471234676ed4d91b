package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/stationctl/core/model"
	corestore "github.com/kilianp07/stationctl/core/store"
)

// RedisConfig selects the Redis server and key holding the state.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// Key defaults to "stationctl:state".
	Key string `json:"key"`
}

// RedisStore keeps the state document as one JSON string value.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis store: addr is required")
	}
	if cfg.Key == "" {
		cfg.Key = "stationctl:state"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisStore{client: client, key: cfg.Key}, nil
}

// LoadState returns the stored document or corestore.ErrNoState.
func (r *RedisStore) LoadState(ctx context.Context) (*model.StationState, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, corestore.ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get: %w", err)
	}
	var st model.StationState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("redis store: decode: %w", err)
	}
	return &st, nil
}

// ReplaceState overwrites the value without expiry.
func (r *RedisStore) ReplaceState(ctx context.Context, st *model.StationState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis store: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error { return r.client.Close() }
