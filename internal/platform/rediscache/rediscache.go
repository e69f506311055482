package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/utils"
)

// Cache is a best-effort embedding cache. A miss or a cache failure never
// fails the caller; it only costs a provider round trip.
type Cache struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func New(log *logger.Logger) (*Cache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlHours := utils.GetEnvAsInt("REDIS_EMBED_TTL_HOURS", 24, log)
	if ttlHours < 1 {
		ttlHours = 24
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Cache{
		log: log.With("service", "RedisCache"),
		rdb: rdb,
		ttl: time.Duration(ttlHours) * time.Hour,
	}, nil
}

// EmbeddingKey hashes the text so arbitrarily large chunks stay within key
// size limits. Model and dim are part of the key because a model or
// dimension change invalidates every cached vector.
func EmbeddingKey(model string, dim int, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%d:%x", model, dim, sum)
}

// GetFloats returns cached vectors aligned to keys, nil at miss positions.
func (c *Cache) GetFloats(ctx context.Context, keys []string) ([][]float32, error) {
	out := make([][]float32, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok || raw == "" {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			c.log.Warn("dropping undecodable cached embedding", "key", keys[i], "error", err)
			continue
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Cache) SetFloats(ctx context.Context, kv map[string][]float32) error {
	if len(kv) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for key, vec := range kv {
		raw, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("encode embedding for %s: %w", key, err)
		}
		pipe.Set(ctx, key, raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
