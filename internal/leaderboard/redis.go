package leaderboard

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes how to reach the fast store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// OpenRedis connects to Redis and verifies the connection. The returned client
// must be closed by the caller at shutdown.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, newUnavailableError(opPing, "ping_failed", err)
	}
	return client, nil
}
