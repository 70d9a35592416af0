package ratelimit

import (
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// New builds middleware limiting each client IP to perMinute requests.
// Counters live in redis so the limit holds across instances. The middleware
// sets X-RateLimit-* headers and answers 429 once the window is spent.
func New(rdb *redis.Client, perMinute int) (func(http.Handler) http.Handler, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "ratelimit"})
	if err != nil {
		return nil, err
	}
	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	mw := mhttp.NewMiddleware(limiter.New(store, rate))
	return mw.Handler, nil
}
