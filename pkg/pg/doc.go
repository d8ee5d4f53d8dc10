// Package pg establishes the Postgres connection pool used by the queue's
// Postgres-backed storage. It adds connect-time retries, a healthcheck probe
// for the HTTP server's readiness endpoint, goose-based schema migrations,
// and helpers for classifying pgx errors.
//
// Usage:
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.Close()
//
//	store := jobqueue.NewPgStorage(pool)
//
// For a quick start without migration files, jobqueue.PgSchema holds the DDL
// the storage expects and can be applied directly.
package pg
