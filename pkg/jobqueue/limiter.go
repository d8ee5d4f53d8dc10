package jobqueue

import (
	"time"

	"github.com/dmitrymomot/queuekit/pkg/ratelimit"
)

// newDispatchLimiter builds the token bucket backing the configured dispatch
// budget: RateCapacity starts per RateRefillInterval, refilled in full.
func newDispatchLimiter(cfg Config) (ratelimit.RateLimiter, error) {
	interval := cfg.RateRefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
		Capacity:       cfg.RateCapacity,
		RefillRate:     cfg.RateCapacity,
		RefillInterval: interval,
	})
}
