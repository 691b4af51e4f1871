package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-monitor/fueltheft/internal/config"
)

const (
	redisSettingsKey = "fueltheft:settings"
	redisCursorKey   = "fueltheft:feed:cursor"
	redisDedupPrefix = "fueltheft:dedup:"
	redisAuthPrefix  = "fueltheft:auth:"

	// AlertChannel is the pub/sub channel carrying every emitted alert.
	AlertChannel = "fueltheft:alerts"
)

// RedisStore holds the shared runtime state of fueltheft instances: settings,
// the feed cursor, dedup cooldowns, control API keys and the alert channel.
type RedisStore struct {
	client   *redis.Client
	cooldown time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client with the default cooldown.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, cooldown: 5 * time.Minute}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// WithCooldown sets the dedup cooldown.
func (r *RedisStore) WithCooldown(d time.Duration) *RedisStore {
	r.cooldown = d
	return r
}

// Accept claims the vehicle's cooldown slot with SET NX PX. The slot is
// shared by every instance on the same Redis and expires on its own, so a
// rejected alert never extends it. at is unused: the cooldown runs on
// Redis time, which matches live alerts stamped with the current time.
func (r *RedisStore) Accept(ctx context.Context, vehicleID string, at time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisDedupPrefix+vehicleID, at.UnixMilli(), r.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim failed: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) LoadSettings(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, redisSettingsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get settings failed: %w", err)
	}
	return data, nil
}

func (r *RedisStore) SaveSettings(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, redisSettingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set settings failed: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadCursor(ctx context.Context) (string, error) {
	cursor, err := r.client.Get(ctx, redisCursorKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get cursor failed: %w", err)
	}
	return cursor, nil
}

// SaveCursor stores cursor; an empty cursor deletes the key.
func (r *RedisStore) SaveCursor(ctx context.Context, cursor string) error {
	var err error
	if cursor == "" {
		err = r.client.Del(ctx, redisCursorKey).Err()
	} else {
		err = r.client.Set(ctx, redisCursorKey, cursor, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("redis save cursor failed: %w", err)
	}
	return nil
}

// GetAPIKey returns the owner recorded for apiKey, or "" when unknown.
func (r *RedisStore) GetAPIKey(ctx context.Context, apiKey string) (string, error) {
	val, err := r.client.Get(ctx, redisAuthPrefix+apiKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get api key failed: %w", err)
	}
	return val, nil
}

// SetAPIKey registers apiKey for owner without expiry.
func (r *RedisStore) SetAPIKey(ctx context.Context, apiKey, owner string) error {
	return r.client.Set(ctx, redisAuthPrefix+apiKey, owner, 0).Err()
}

// APIKeyPattern matches every control API key.
func APIKeyPattern() string {
	return redisAuthPrefix + "*"
}

func (r *RedisStore) PublishAlert(ctx context.Context, payload []byte) error {
	return r.client.Publish(ctx, AlertChannel, payload).Err()
}

// SubscribeAlerts subscribes to the alert channel. The caller closes it.
func (r *RedisStore) SubscribeAlerts(ctx context.Context) *redis.PubSub {
	return r.client.Subscribe(ctx, AlertChannel)
}
