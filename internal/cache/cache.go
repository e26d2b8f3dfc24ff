// Package cache provides a Redis read-through cache in front of the hot
// verification lookups. The cache is optional: a nil *Cache disables caching
// and every call falls through to Postgres.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/models"
)

// ErrMiss is returned when a key is absent from the cache.
var ErrMiss = errors.New("cache miss")

// Cache wraps a Redis client with the verification API's key layout.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis using a URL (redis://host:port/db) and verifies the
// connection.
func New(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	c := &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Logger(),
	}
	c.logger.Info().Dur("ttl", ttl).Msg("redis cache connected")
	return c, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func trialKey(identityID uuid.UUID) string {
	return "trial:identity:" + identityID.String()
}

func deviceTrialKey(fingerprint string) string {
	return "trial:device:" + fingerprint
}

// GetTrial returns the cached trial record for an identity.
func (c *Cache) GetTrial(ctx context.Context, identityID uuid.UUID) (*models.Trial, error) {
	return c.getTrial(ctx, trialKey(identityID))
}

// GetDeviceTrial returns the cached trial record for a device fingerprint.
func (c *Cache) GetDeviceTrial(ctx context.Context, fingerprint string) (*models.Trial, error) {
	return c.getTrial(ctx, deviceTrialKey(fingerprint))
}

func (c *Cache) getTrial(ctx context.Context, key string) (*models.Trial, error) {
	if c == nil {
		return nil, ErrMiss
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var trial models.Trial
	if err := json.Unmarshal(data, &trial); err != nil {
		// Corrupt entry; drop it and treat as a miss.
		c.client.Del(ctx, key)
		return nil, ErrMiss
	}
	return &trial, nil
}

// SetTrial caches a trial record under both its identity and device keys.
func (c *Cache) SetTrial(ctx context.Context, trial *models.Trial) error {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("marshal trial: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, trialKey(trial.IdentityID), data, c.ttl)
	pipe.Set(ctx, deviceTrialKey(trial.DeviceFingerprint), data, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache set trial: %w", err)
	}
	return nil
}

// InvalidateTrial evicts the cached records after a trial converts or the
// sweep expires it, so the next lookup sees the database.
func (c *Cache) InvalidateTrial(ctx context.Context, identityID uuid.UUID, fingerprint string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, trialKey(identityID), deviceTrialKey(fingerprint)).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("trial cache invalidation failed")
	}
}
