package pg

import "time"

// Config controls the Postgres connection pool backing the queue.
type Config struct {
	ConnectionString  string        `env:"QUEUE_PG_CONN_URL,required"`                   // ConnectionString is the pgx connection string or URL.
	MaxOpenConns      int32         `env:"QUEUE_PG_MAX_OPEN_CONNS" envDefault:"10"`      // MaxOpenConns caps the pool size.
	MaxIdleConns      int32         `env:"QUEUE_PG_MAX_IDLE_CONNS" envDefault:"5"`       // MaxIdleConns is the minimum number of idle connections kept warm.
	HealthCheckPeriod time.Duration `env:"QUEUE_PG_HEALTHCHECK_PERIOD" envDefault:"1m"`  // HealthCheckPeriod is how often the pool checks idle connections.
	MaxConnIdleTime   time.Duration `env:"QUEUE_PG_MAX_CONN_IDLE_TIME" envDefault:"10m"` // MaxConnIdleTime is how long a connection may sit idle before being closed.
	MaxConnLifetime   time.Duration `env:"QUEUE_PG_MAX_CONN_LIFETIME" envDefault:"30m"`  // MaxConnLifetime bounds the total lifetime of a connection.

	RetryAttempts int           `env:"QUEUE_PG_RETRY_ATTEMPTS" envDefault:"3"`  // RetryAttempts is the number of connection attempts before giving up.
	RetryInterval time.Duration `env:"QUEUE_PG_RETRY_INTERVAL" envDefault:"5s"` // RetryInterval is the base pause between connection attempts.

	MigrationsPath  string `env:"QUEUE_PG_MIGRATIONS_PATH" envDefault:"migrations"`       // MigrationsPath is the directory holding goose migration files.
	MigrationsTable string `env:"QUEUE_PG_MIGRATIONS_TABLE" envDefault:"queue_schema_migrations"` // MigrationsTable stores the applied migration versions.
}
