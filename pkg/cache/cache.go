package cache

import (
	"context"
	"errors"
	"time"

	"github.com/payflux/monitor-core/internal/config"
	"github.com/payflux/monitor-core/pkg/logger"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is the query cache used by the monitoring client. Values are stored
// as bytes; callers marshal/unmarshal their own shapes.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// New selects the cache backend: Valkey/Redis when nodes are configured,
// otherwise the in-process LRU. A Valkey connection failure degrades to the
// LRU cache instead of failing startup.
func New(cfg config.CacheConfig, log logger.Logger) Cache {
	if len(cfg.Nodes) == 0 {
		return NewLRU(cfg.MaxEntries, cfg.DefaultTTL())
	}
	c, err := NewValkey(cfg.Nodes[0], cfg.DB, cfg.Password, cfg.DefaultTTL())
	if err != nil {
		log.Warn("Valkey cache unavailable; using in-process LRU fallback", "error", err)
		return NewLRU(cfg.MaxEntries, cfg.DefaultTTL())
	}
	log.Info("Valkey cache initialized", "addr", cfg.Nodes[0])
	return c
}
