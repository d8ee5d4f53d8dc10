// Package logger builds configured slog loggers and provides typed attribute
// constructors for the identifiers that recur across the queue: job ids, job
// types, worker names, event channels.
//
// Usage:
//
//	log := logger.New(
//	    logger.WithLevel(slog.LevelDebug),
//	    logger.WithComponent("worker"),
//	)
//	log.Info("job completed", logger.JobID(id), logger.Duration(elapsed))
package logger
