package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/ratelimit"
)

func TestNewBucket(t *testing.T) {
	t.Parallel()

	t.Run("nil store rejected", func(t *testing.T) {
		t.Parallel()

		_, err := ratelimit.NewBucket(nil, ratelimit.Config{Capacity: 1, RefillRate: 1, RefillInterval: time.Second})
		assert.ErrorIs(t, err, ratelimit.ErrStoreNil)
	})

	t.Run("invalid config rejected", func(t *testing.T) {
		t.Parallel()

		store := ratelimit.NewMemoryStore()

		for _, cfg := range []ratelimit.Config{
			{Capacity: 0, RefillRate: 1, RefillInterval: time.Second},
			{Capacity: 1, RefillRate: 0, RefillInterval: time.Second},
			{Capacity: 1, RefillRate: 1, RefillInterval: 0},
		} {
			_, err := ratelimit.NewBucket(store, cfg)
			assert.ErrorIs(t, err, ratelimit.ErrInvalidConfig)
		}
	})
}

func TestBucket_Allow(t *testing.T) {
	t.Parallel()

	t.Run("burst up to capacity then denied", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       3,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			res, err := bucket.Allow(context.Background(), "k")
			require.NoError(t, err)
			assert.Truef(t, res.Allowed(), "request %d within capacity", i+1)
		}

		res, err := bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Negative(t, res.Remaining)
		assert.Positive(t, res.RetryAfter())
	})

	t.Run("denied request consumes nothing", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		_, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)

		// Repeated denials do not dig the bucket deeper.
		for range_i := 0; range_i < 5; range_i++ {
			res, err := bucket.Allow(context.Background(), "k")
			require.NoError(t, err)
			assert.Equal(t, -1, res.Remaining)
		}
	})

	t.Run("tokens refill continuously", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: 50 * time.Millisecond,
		})
		require.NoError(t, err)

		res, err := bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.False(t, res.Allowed())

		time.Sleep(60 * time.Millisecond)

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		res, err := bucket.Allow(context.Background(), "a")
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = bucket.Allow(context.Background(), "b")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("allow n and reset", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       10,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		res, err := bucket.AllowN(context.Background(), "k", 10)
		require.NoError(t, err)
		require.True(t, res.Allowed())
		assert.Equal(t, 0, res.Remaining)

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.False(t, res.Allowed())

		require.NoError(t, bucket.Reset(context.Background(), "k"))

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("returned tokens restore the budget", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       2,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		res, err := bucket.AllowN(context.Background(), "k", 2)
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.False(t, res.Allowed())

		require.NoError(t, bucket.Return(context.Background(), "k", 1))

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("returns cap at capacity", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		// Returning to an untouched bucket must not mint extra tokens.
		require.NoError(t, bucket.Return(context.Background(), "k", 5))

		res, err := bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = bucket.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
	})

	t.Run("non-positive return rejected", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Second,
		})
		require.NoError(t, err)

		err = bucket.Return(context.Background(), "k", 0)
		assert.ErrorIs(t, err, ratelimit.ErrInvalidTokenCount)
	})

	t.Run("non-positive token count rejected", func(t *testing.T) {
		t.Parallel()

		bucket, err := ratelimit.NewBucket(ratelimit.NewMemoryStore(), ratelimit.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Second,
		})
		require.NoError(t, err)

		_, err = bucket.AllowN(context.Background(), "k", 0)
		assert.ErrorIs(t, err, ratelimit.ErrInvalidTokenCount)
	})
}
