package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HasithaDN-dev/YathraGo-sub004/internal/tracking/domain"
)

const defaultKeyPrefix = "tracking:last:"

// RedisStore keeps the most recent sample per route in Redis with a TTL so
// stale positions age out on their own after a ride ends.
type RedisStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore constructs the store. A non-positive ttl defaults to two
// minutes, comfortably longer than any sane sampling interval.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisStore{client: client, keyPrefix: prefix, ttl: ttl}
}

// Put overwrites the stored sample for the route.
func (s *RedisStore) Put(ctx context.Context, sample domain.LocationSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+sample.RouteID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Last returns the stored sample and whether one exists.
func (s *RedisStore) Last(ctx context.Context, routeID string) (domain.LocationSample, bool, error) {
	payload, err := s.client.Get(ctx, s.keyPrefix+routeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LocationSample{}, false, nil
	}
	if err != nil {
		return domain.LocationSample{}, false, fmt.Errorf("redis get: %w", err)
	}
	var sample domain.LocationSample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return domain.LocationSample{}, false, fmt.Errorf("unmarshal sample: %w", err)
	}
	return sample, true, nil
}
