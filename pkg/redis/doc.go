// Package redis establishes the Redis connection used by the queue's
// Redis-backed storage. It adds connect-time retries on top of go-redis and a
// healthcheck probe for the HTTP server's readiness endpoint.
//
// Usage:
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	store := jobqueue.NewRedisStorage(client)
package redis
