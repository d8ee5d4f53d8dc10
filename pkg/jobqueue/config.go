package jobqueue

import "time"

// Config holds the environment-driven configuration for the job queue.
// Load it with the config package and hand it to the FromConfig
// constructors:
//
//	var cfg jobqueue.Config
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
//	producer, err := jobqueue.NewProducerFromConfig(store, cfg)
//	dispatcher, err := jobqueue.NewDispatcherFromConfig(store, cfg)
//	worker, err := jobqueue.NewWorkerFromConfig(dispatcher, store, cfg)
type Config struct {
	Concurrency        int           `env:"QUEUE_CONCURRENCY" envDefault:"10"`
	PullInterval       time.Duration `env:"QUEUE_PULL_INTERVAL" envDefault:"1s"`
	Lease              time.Duration `env:"QUEUE_LEASE" envDefault:"5m"`
	ReapInterval       time.Duration `env:"QUEUE_REAP_INTERVAL" envDefault:"15s"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	DefaultMaxAttempts int           `env:"QUEUE_DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase        time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"1m"`
	RateCapacity       int           `env:"QUEUE_RATE_CAPACITY" envDefault:"0"`
	RateRefillInterval time.Duration `env:"QUEUE_RATE_REFILL_INTERVAL" envDefault:"1s"`
}

// NewProducerFromConfig creates a Producer with the config's submission
// defaults. Extra options are applied on top.
func NewProducerFromConfig(repo ProducerRepository, cfg Config, opts ...ProducerOption) (*Producer, error) {
	configOpts := make([]ProducerOption, 0, 1+len(opts))
	if cfg.DefaultMaxAttempts > 0 {
		configOpts = append(configOpts, WithDefaultMaxAttempts(cfg.DefaultMaxAttempts))
	}
	configOpts = append(configOpts, opts...)

	return NewProducer(repo, configOpts...)
}

// NewDispatcherFromConfig creates a Dispatcher with the config's lease and
// reap settings. A RateCapacity above zero installs an in-memory token
// bucket refilling the full budget every RateRefillInterval; zero leaves
// dispatch unthrottled. Extra options are applied on top and may override
// the limiter.
func NewDispatcherFromConfig(repo DispatcherRepository, cfg Config, opts ...DispatcherOption) (*Dispatcher, error) {
	configOpts := make([]DispatcherOption, 0, 3+len(opts))
	if cfg.Lease > 0 {
		configOpts = append(configOpts, WithLease(cfg.Lease))
	}
	if cfg.ReapInterval > 0 {
		configOpts = append(configOpts, WithReapInterval(cfg.ReapInterval))
	}
	if cfg.RateCapacity > 0 {
		limiter, err := newDispatchLimiter(cfg)
		if err != nil {
			return nil, err
		}
		configOpts = append(configOpts, WithRateLimiter(limiter))
	}
	configOpts = append(configOpts, opts...)

	return NewDispatcher(repo, configOpts...)
}

// NewWorkerFromConfig creates a Worker with the config's concurrency,
// polling, shutdown, and retry-backoff settings. Extra options are applied
// on top.
func NewWorkerFromConfig(dispatcher *Dispatcher, repo WorkerRepository, cfg Config, opts ...WorkerOption) (*Worker, error) {
	configOpts := make([]WorkerOption, 0, 4+len(opts))
	if cfg.Concurrency > 0 {
		configOpts = append(configOpts, WithConcurrency(cfg.Concurrency))
	}
	if cfg.PullInterval > 0 {
		configOpts = append(configOpts, WithPullInterval(cfg.PullInterval))
	}
	if cfg.ShutdownTimeout > 0 {
		configOpts = append(configOpts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	if cfg.BackoffBase > 0 && cfg.BackoffMax > 0 {
		configOpts = append(configOpts, WithRetryBackoff(Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax}))
	}
	configOpts = append(configOpts, opts...)

	return NewWorker(dispatcher, repo, configOpts...)
}
