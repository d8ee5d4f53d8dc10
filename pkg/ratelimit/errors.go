package ratelimit

import "errors"

var (
	// ErrInvalidConfig is returned when the bucket configuration is invalid.
	ErrInvalidConfig = errors.New("invalid rate limiter configuration")

	// ErrInvalidTokenCount is returned when a non-positive token count is requested.
	ErrInvalidTokenCount = errors.New("invalid token count")

	// ErrStoreNil is returned when a nil store is provided.
	ErrStoreNil = errors.New("store cannot be nil")
)
