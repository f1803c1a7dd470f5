package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RegimeCache stores the latest regime snapshot as JSON at
// "<prefix>:regime:latest" so dashboards and other tools can read it.
type RegimeCache struct {
	rdb *redis.Client
	key string
}

var _ domain.RegimeCache = (*RegimeCache)(nil)

// NewRegimeCache creates a RegimeCache backed by the given Client.
func NewRegimeCache(c *Client) *RegimeCache {
	return &RegimeCache{rdb: c.Underlying(), key: c.Key("regime", "latest")}
}

// SetLatest overwrites the stored snapshot. A non-positive ttl keeps it
// until replaced.
func (rc *RegimeCache) SetLatest(ctx context.Context, snap domain.RegimeSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode regime: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := rc.rdb.Set(ctx, rc.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set regime: %w", err)
	}
	return nil
}

// Latest returns the stored snapshot or domain.ErrNotFound.
func (rc *RegimeCache) Latest(ctx context.Context) (domain.RegimeSnapshot, error) {
	data, err := rc.rdb.Get(ctx, rc.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RegimeSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RegimeSnapshot{}, fmt.Errorf("redis: get regime: %w", err)
	}
	var snap domain.RegimeSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.RegimeSnapshot{}, fmt.Errorf("redis: decode regime: %w", err)
	}
	return snap, nil
}
