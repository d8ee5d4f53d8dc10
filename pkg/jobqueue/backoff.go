package jobqueue

import "time"

// Backoff computes retry delays that grow exponentially with the attempt
// count and are capped at Max to avoid unbounded growth.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the queue defaults: 500ms, 1s, 2s ... capped at 1m.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: time.Minute}

// Delay returns the wait before the given attempt is retried. attempt is the
// number of attempts already made (1 after the first failure), so successive
// delays are non-decreasing: Base*2^0, Base*2^1, and so on up to Max.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoff.Max
	}

	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
