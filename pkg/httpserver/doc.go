// Package httpserver is the process entry point for the queue's HTTP
// surface. It wraps net/http with graceful shutdown, configurable timeouts,
// health-check handlers, and structured logging via slog.
//
// Run blocks until the context is cancelled or an interrupt/TERM signal is
// received, then shuts the server down with a configurable deadline. Startup
// and shutdown failures are wrapped with the ErrStart and ErrShutdown
// sentinels so they can be inspected with errors.Is.
//
// Usage with the queue API:
//
//	api, err := queuehttp.NewHandler(producer, store, store)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/", api.Routes())
//	r.Get("/health", httpserver.HealthCheckHandler(ctx, log))
//	r.Get("/ready", httpserver.HealthCheckHandler(ctx, log,
//		pg.Healthcheck(pool),
//	))
//
//	srv := httpserver.New(
//		httpserver.WithAddr(":8080"),
//		httpserver.WithLogger(log),
//	)
//	if err := srv.Run(ctx, r); err != nil {
//		log.Fatal(err)
//	}
package httpserver
