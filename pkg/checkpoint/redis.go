package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// RedisConfig configures the Redis run-state backend.
type RedisConfig struct {
	Address  string
	Password string
	Database int

	// Prefix is prepended to all run-state keys.
	Prefix string

	// TTL expires run state automatically; 0 keeps it forever.
	TTL time.Duration

	Timeout  time.Duration
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults for an address.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "rentflow:runs:",
		TTL:      7 * 24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// RedisBackend stores run state in Redis, useful when several workers
// share pipeline state.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreInit, "failed to connect to redis").
			WithContext("address", cfg.Address)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(runID string) string {
	return b.cfg.Prefix + runID
}

func (b *RedisBackend) Save(ctx context.Context, state *RunState) error {
	state.mu.Lock()
	data, err := json.Marshal(state)
	state.mu.Unlock()
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.key(state.RunID), data, b.cfg.TTL).Err(); err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreWrite, "failed to save run state to redis")
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, runID string) (*RunState, error) {
	data, err := b.client.Get(ctx, b.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, rferrors.New(rferrors.CodeStoreQuery, "run state not found").
			WithContext("run_id", runID)
	}
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "failed to load run state from redis")
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "run state corrupted").
			WithContext("run_id", runID)
	}
	if state.Phases == nil {
		state.Phases = make(map[string]PhaseState)
	}
	return &state, nil
}

func (b *RedisBackend) Delete(ctx context.Context, runID string) error {
	return b.client.Del(ctx, b.key(runID)).Err()
}

func (b *RedisBackend) ListIncomplete(ctx context.Context) ([]*RunState, error) {
	var states []*RunState
	iter := b.client.Scan(ctx, 0, b.cfg.Prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var state RunState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		if state.CompletedAt == nil {
			states = append(states, &state)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "failed to scan run state keys")
	}
	return states, nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }

func (b *RedisBackend) Name() string { return "redis" }
