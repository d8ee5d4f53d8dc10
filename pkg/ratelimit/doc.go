// Package ratelimit provides a token bucket rate limiter with pluggable
// state storage.
//
// The dispatcher uses it to cap how many jobs may be started per time
// window, independently of worker slot availability:
//
//	bucket, _ := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
//	    Capacity:       50,
//	    RefillRate:     50,
//	    RefillInterval: time.Second,
//	})
//
// A denied check reports a negative remaining count and the time after which
// tokens become available again via Result.RetryAfter.
package ratelimit
