package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/account-activation-api/pkg/config"
)

// Key prefixes for cached activation reads.
const (
	KeyStatusStats   = "status:stats"
	KeyParentStatus  = "status:parent:"
	PatternStatusAll = "status:*"
)

// ParentStatusKey returns the cache key for a parent's computed status context.
func ParentStatusKey(parentID string) string {
	return KeyParentStatus + parentID
}

// NewRedis returns a configured Redis client.
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
