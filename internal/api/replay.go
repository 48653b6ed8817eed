package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"tv-executor/pkg/cache"
)

// ReplayStore remembers payload digests. Remember reports whether key was new.
type ReplayStore interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryReplayStore keeps digests in process memory.
type MemoryReplayStore struct {
	set *cache.ShardedSet
}

func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{set: cache.NewShardedSet()}
}

func (m *MemoryReplayStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return m.set.Add(key, ttl), nil
}

// Run evicts expired digests every interval until ctx is done.
func (m *MemoryReplayStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.set.Cleanup()
		}
	}
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisReplayStore shares digests between replicas.
type RedisReplayStore struct {
	client setNXer
	prefix string
}

func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client, prefix: "tvexec:replay:"}
}

func (r *RedisReplayStore) Remember(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
}

// ReplayGuard rejects a body identical to one seen within window with 409.
// Store failures let the request through.
func ReplayGuard(store ReplayStore, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, webhookResponse{Error: "Validation Error: unreadable body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		sum := sha256.Sum256(raw)
		fresh, err := store.Remember(c.Request.Context(), hex.EncodeToString(sum[:]), window)
		if err != nil {
			logger.Warn("replay store unavailable", "error", err)
			c.Next()
			return
		}
		if !fresh {
			logger.Warn("duplicate webhook rejected", "request_id", c.GetString(requestIDKey), "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusConflict, webhookResponse{Error: "Validation Error: duplicate signal"})
			return
		}
		c.Next()
	}
}
