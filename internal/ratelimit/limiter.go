package ratelimit

import (
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/storefront-gateway/internal/common"
)

// New builds a Redis-backed limiter from a formatted rate such as "120-M".
func New(rdb *redis.Client, formatted, prefix string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	return limiter.New(store, rate), nil
}

// CustomerOrIP keys requests by authenticated customer and falls back to the
// client address for anonymous traffic.
func CustomerOrIP(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := common.CustomerID(r.Context()); ok {
			return "customer:" + id
		}
		return "ip:" + common.ClientIP(r, trustProxy)
	}
}
