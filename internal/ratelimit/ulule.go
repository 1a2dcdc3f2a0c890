package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// UluleLimiter adapts ulule/limiter fixed-window limiting to the Allower
// interface. One limiter instance is kept per distinct rate.
type UluleLimiter struct {
	store limiter.Store

	mu    sync.Mutex
	rates map[string]*limiter.Limiter
}

// NewUluleMemory builds a process-local limiter.
func NewUluleMemory(prefix string) *UluleLimiter {
	return &UluleLimiter{store: memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix, CleanUpInterval: time.Minute})}
}

// NewUluleRedis builds a limiter sharing counters through Redis.
func NewUluleRedis(client *redis.Client, prefix string) (*UluleLimiter, error) {
	store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return &UluleLimiter{store: store}, nil
}

// Allow implements Allower.
func (u *UluleLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if u == nil || u.store == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	lctx, err := u.limiterFor(window, max).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !lctx.Reached, int(lctx.Remaining), time.Unix(lctx.Reset, 0), nil
}

func (u *UluleLimiter) limiterFor(window time.Duration, max int) *limiter.Limiter {
	id := fmt.Sprintf("%d/%s", max, window)
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.rates == nil {
		u.rates = make(map[string]*limiter.Limiter)
	}
	if l, ok := u.rates[id]; ok {
		return l
	}
	l := limiter.New(u.store, limiter.Rate{Period: window, Limit: int64(max)})
	u.rates[id] = l
	return l
}
