package cache

import (
	"time"

	"github.com/agentuity/memo/codec"
	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/resilience"
	"github.com/agentuity/memo/store"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultWriteTimeout bounds how long a single store attempt waits for the
// writer lock before it counts as a conflict.
const DefaultWriteTimeout = 2 * time.Second

// tracerName identifies the spans emitted by this package.
const tracerName = "@agentuity/memo/cache"

// config holds the resolved configuration for a Cache.
type config struct {
	logger       logger.Logger
	codec        *codec.Codec
	codecOpts    []codec.Option
	storeOpts    []store.Option
	tracer       trace.Tracer
	breaker      resilience.CircuitBreakerConfig
	retry        resilience.RetryConfig
	writeTimeout time.Duration
}

// Option configures a Cache.
type Option func(*config)

// isBreakerFailure counts storage failures against the circuit. Conflicts are
// contention, not a broken store.
func isBreakerFailure(err error) bool {
	return err != nil && errors.Is(err, store.ErrStorage) && !errors.Is(err, store.ErrTransactionConflict)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrTransactionConflict)
}

func defaultConfig() config {
	breaker := resilience.DefaultCircuitBreakerConfig()
	breaker.MaxFailures = 3
	breaker.Timeout = 10 * time.Second
	breaker.SuccessThreshold = 1
	breaker.IsFailure = isBreakerFailure

	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = isConflict

	return config{
		breaker:      breaker,
		retry:        retry,
		writeTimeout: DefaultWriteTimeout,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger().WithPrefix("[memo]")
	}
	if cfg.codec == nil {
		cfg.codec = codec.New(cfg.codecOpts...)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	if cfg.breaker.IsFailure == nil {
		cfg.breaker.IsFailure = isBreakerFailure
	}
	if cfg.retry.RetryableErrors == nil {
		cfg.retry.RetryableErrors = isConflict
	}
	return cfg
}

// WithLogger sets the logger. Defaults to a console logger at the level named
// by MEMO_LOG_LEVEL.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCodec sets the codec used for arguments and results. It takes
// precedence over WithCodecOptions.
func WithCodec(cd *codec.Codec) Option {
	return func(c *config) { c.codec = cd }
}

// WithCodecOptions configures the default codec.
func WithCodecOptions(opts ...codec.Option) Option {
	return func(c *config) { c.codecOpts = append(c.codecOpts, opts...) }
}

// WithStoreOptions is passed to store.Open by Open. New ignores it.
func WithStoreOptions(opts ...store.Option) Option {
	return func(c *config) { c.storeOpts = append(c.storeOpts, opts...) }
}

// WithTracerProvider sets where lookup spans are recorded. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracer = tp.Tracer(tracerName) }
}

// WithCircuitBreaker replaces the breaker that lets the cache stop touching a
// failing store. IsFailure defaults to storage errors other than conflicts.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithConflictRetry sets how often a store attempt that lost a write
// conflict is retried. RetryableErrors defaults to conflicts only.
func WithConflictRetry(cfg resilience.RetryConfig) Option {
	return func(c *config) { c.retry = cfg }
}

// WithWriteTimeout bounds each store attempt's wait for the writer lock.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}
