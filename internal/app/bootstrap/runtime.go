package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/dental-outreach/internal/config"
	"github.com/wolfman30/dental-outreach/internal/inbound"
	"github.com/wolfman30/dental-outreach/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildDeduper returns a Redis-backed inbound deduper, or an in-process one
// when Redis is unavailable.
func BuildDeduper(client *redis.Client, cfg *appconfig.Config) inbound.Deduper {
	ttl := cfg.InboundDedupeTTL
	if client != nil {
		return inbound.NewRedisDeduper(client, ttl)
	}
	return inbound.NewMemoryDeduper(ttl)
}
