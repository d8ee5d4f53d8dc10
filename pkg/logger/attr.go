package logger

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// JobID records the job identifier under the key "job_id".
func JobID(id string) slog.Attr {
	return slog.String("job_id", id)
}

// JobType records the job type under the key "job_type".
func JobType(t string) slog.Attr {
	return slog.String("job_type", t)
}

// UserID records the user identifier under the key "user_id".
// If id is empty, it returns an empty Attr.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// Worker records the worker name under the key "worker".
func Worker(name string) slog.Attr {
	return slog.String("worker", name)
}

// Channel records the event channel under the key "channel".
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Attempt records the attempt number under the key "attempt".
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Duration records elapsed time under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
