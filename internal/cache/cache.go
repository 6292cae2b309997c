package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/labwatch/labwatch/internal/config"
	"github.com/labwatch/labwatch/pkg/telemetry"
)

const writeTimeout = 2 * time.Second

// Cache is a best-effort Redis mirror of latest values. A nil *Cache is valid
// and all methods become no-ops, so callers never branch on whether the
// mirror is configured.
type Cache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	failLog *rate.Limiter
}

// New connects the mirror, or returns nil when no address is configured.
func New(cfg config.CacheConfig) *Cache {
	if cfg.Addr == "" {
		return nil
	}
	return &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		failLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Ping verifies connectivity. Used at startup to log whether the mirror is
// reachable; a failed ping does not disable the mirror.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// StoreHealth mirrors one batch of health snapshots.
func (c *Cache) StoreHealth(snaps []telemetry.HealthSnapshot) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	for i := range snaps {
		c.set(ctx, c.prefix+":health:"+snaps[i].DeviceID, snaps[i])
	}
}

// StoreSample mirrors the latest sample for its device.
func (c *Cache) StoreSample(s telemetry.Sample) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.set(ctx, c.prefix+":latest:"+s.DeviceID, s)
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil && c.failLog.Allow() {
		slog.Warn("cache: mirror write failed", "key", key, "error", err)
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
