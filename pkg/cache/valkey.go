package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/payflux/monitor-core/internal/monitoring"
)

// valkeyCache implements Cache against a single-node Valkey/Redis instance.
// Keys share a namespace prefix so Clear can purge only our entries.
type valkeyCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewValkey(addr string, db int, password string, defaultTTL time.Duration) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	return &valkeyCache{client: client, ttl: defaultTTL, prefix: "payflux:"}, nil
}

func (v *valkeyCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Get(ctx, v.prefix+key).Bytes()
	if err == redis.Nil {
		monitoring.RecordCacheOperation("get", "miss")
		return nil, ErrCacheMiss
	}
	if err != nil {
		monitoring.RecordCacheOperation("get", "error")
		return nil, err
	}
	monitoring.RecordCacheOperation("get", "hit")
	return b, nil
}

func (v *valkeyCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encodeValue(value)
	if err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return fmt.Errorf("marshal value for key %s: %w", key, err)
	}
	if ttl <= 0 {
		ttl = v.ttl
	}
	if err := v.client.Set(ctx, v.prefix+key, data, ttl).Err(); err != nil {
		monitoring.RecordCacheOperation("set", "error")
		return err
	}
	monitoring.RecordCacheOperation("set", "success")
	return nil
}

func (v *valkeyCache) Delete(ctx context.Context, key string) error {
	if err := v.client.Del(ctx, v.prefix+key).Err(); err != nil {
		monitoring.RecordCacheOperation("delete", "error")
		return err
	}
	monitoring.RecordCacheOperation("delete", "success")
	return nil
}

// Clear removes every key under our prefix. SCAN keeps this safe on shared
// instances.
func (v *valkeyCache) Clear(ctx context.Context) error {
	iter := v.client.Scan(ctx, 0, v.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := v.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return v.client.Del(ctx, keys...).Err()
	}
	return nil
}

func (v *valkeyCache) HealthCheck(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}
