package cache

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/agentuity/memo/cachekey"
	"github.com/agentuity/memo/codec"
	"github.com/agentuity/memo/fingerprint"
	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/resilience"
	"github.com/agentuity/memo/store"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Cache memoizes computations in a persistent store. A nil *Cache is valid:
// it runs every computation uncached and its maintenance operations fail
// with store.ErrClosed. Caches are safe for concurrent use.
type Cache struct {
	engine       store.Engine
	codec        *codec.Codec
	logger       logger.Logger
	tracer       trace.Tracer
	breaker      *resilience.CircuitBreaker
	retry        resilience.RetryConfig
	writeTimeout time.Duration
	owned        bool
	closed       atomic.Bool
	counters     counters
}

// Call identifies one invocation of a computation: the fingerprint of its
// implementation and its arguments.
type Call struct {
	Fingerprint fingerprint.Fingerprint
	Args        []any
}

// Invoker produces the value for a call on a miss. The bool reports whether
// the value may be cached; errors and non-cacheable values are never stored.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Open opens or creates the cache file at path. Opening a path that is
// already open in this process shares the underlying database.
func Open(path string, opts ...Option) (*Cache, error) {
	cfg := applyOptions(opts)
	storeOpts := append([]store.Option{store.WithLogger(cfg.logger)}, cfg.storeOpts...)
	h, err := store.Open(path, storeOpts...)
	if err != nil {
		return nil, err
	}
	c := newCache(h, cfg)
	c.owned = true
	return c, nil
}

// New wraps an engine the caller manages. Close does not close it.
func New(engine store.Engine, opts ...Option) *Cache {
	return newCache(engine, applyOptions(opts))
}

func newCache(engine store.Engine, cfg config) *Cache {
	if cfg.breaker.OnStateChange == nil {
		cfg.breaker.OnStateChange = breakerLogger(cfg.logger, engine.Path(), cfg.breaker.Timeout)
	}
	return &Cache{
		engine:       engine,
		codec:        cfg.codec,
		logger:       cfg.logger,
		tracer:       cfg.tracer,
		breaker:      resilience.NewCircuitBreaker(cfg.breaker),
		retry:        cfg.retry,
		writeTimeout: cfg.writeTimeout,
	}
}

func breakerLogger(log logger.Logger, path string, timeout time.Duration) func(from, to resilience.CircuitBreakerState) {
	return func(from, to resilience.CircuitBreakerState) {
		switch to {
		case resilience.StateOpen:
			log.Warn("Store %s is failing, running uncached for %s", path, timeout)
		case resilience.StateClosed:
			if from == resilience.StateHalfOpen {
				log.Info("Store %s recovered", path)
			}
		}
	}
}

// Key returns the cache key of a call.
func (c *Cache) Key(call Call) (cachekey.Key, error) {
	cd := codec.New()
	if c != nil {
		cd = c.codec
	}
	args, err := cd.EncodeArgs(call.Args...)
	if err != nil {
		return cachekey.Key{}, err
	}
	return cachekey.Build(call.Fingerprint, args), nil
}

// errNoCache is returned by the maintenance operations of a nil *Cache.
var errNoCache = errors.Mark(errors.New("no cache is open"), store.ErrClosed)

// Engine returns the underlying store engine, nil for a nil *Cache.
func (c *Cache) Engine() store.Engine {
	if c == nil {
		return nil
	}
	return c.engine
}

// Path returns the location of the cache file, empty for a nil *Cache.
func (c *Cache) Path() string {
	if c == nil {
		return ""
	}
	return c.engine.Path()
}

// Breaker returns the circuit breaker guarding the store.
func (c *Cache) Breaker() *resilience.CircuitBreaker {
	if c == nil {
		return nil
	}
	return c.breaker
}

// LookupOrCompute returns the cached result of call fp(args...) or computes
// it with thunk and stores it. Any failure of encoding or storage degrades to
// running thunk uncached; the result is returned either way.
func LookupOrCompute[T any](ctx context.Context, c *Cache, fp fingerprint.Fingerprint, args []any, thunk func() T) T {
	v, _ := Exec(ctx, c, Call{Fingerprint: fp, Args: args}, func(context.Context) (T, bool, error) {
		return thunk(), true, nil
	})
	return v
}

// Exec is the error-returning form of LookupOrCompute. The only error it
// returns is the one from invoke.
func Exec[T any](ctx context.Context, c *Cache, call Call, invoke Invoker[T]) (T, error) {
	if !c.enabled(call) || !storable[T]() {
		c.uncached()
		v, _, err := invoke(ctx)
		return v, err
	}
	key, err := c.Key(call)
	if err != nil {
		c.logger.Warn("Arguments are not cacheable, running uncached: %s", err)
		c.uncached()
		v, _, err := invoke(ctx)
		return v, err
	}

	ctx, span := c.tracer.Start(ctx, "memo.LookupOrCompute", trace.WithAttributes(attribute.String("memo.key", key.String())))
	defer span.End()

	if v, hit := lookup[T](ctx, c, key); hit {
		span.SetAttributes(attribute.Bool("memo.hit", true))
		return v, nil
	}
	span.SetAttributes(attribute.Bool("memo.hit", false))

	v, cacheable, err := invoke(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	if !cacheable {
		return v, nil
	}
	c.save(ctx, key, v)
	return v, nil
}

func (c *Cache) enabled(call Call) bool {
	return c != nil && !c.closed.Load() && !call.Fingerprint.IsZero()
}

func (c *Cache) uncached() {
	if c != nil {
		c.counters.uncached.Add(1)
	}
}

// storable reports whether results of type T can be decoded back into T.
// Interface types carry no concrete type to decode into.
func storable[T any]() bool {
	return reflect.TypeFor[T]().Kind() != reflect.Interface
}

// lookup reads and decodes key. The read transaction is over when it returns.
func lookup[T any](ctx context.Context, c *Cache, key cachekey.Key) (T, bool) {
	var out T
	log := c.logger.WithContext(ctx)
	if err := c.breaker.Allow(); err != nil {
		c.counters.bypassed.Add(1)
		log.Debug("Store unavailable, skipping lookup of %s", key)
		return out, false
	}
	log.Trace("Attempting cache lookup: %s", key)

	var hit bool
	err := store.Read(ctx, c.engine, func(tx store.ReadTxn) error {
		b, found, err := tx.Get(key.Bytes())
		if err != nil || !found {
			return err
		}
		entry, err := b.Bytes()
		if err != nil {
			return err
		}
		v, err := codec.Decode[T](entry)
		if err != nil {
			c.counters.decodeErrors.Add(1)
			log.Warn("Ignoring unreadable entry %s: %s", key, err)
			return nil
		}
		out, hit = v, true
		return nil
	})
	c.breaker.Done(err)
	if err != nil {
		c.counters.lookupErrors.Add(1)
		log.Warn("Cache lookup of %s failed: %s", key, err)
		return out, false
	}
	if hit {
		c.counters.hits.Add(1)
		log.Debug("Cache hit: %s", key)
	} else {
		c.counters.misses.Add(1)
		log.Debug("Cache miss: %s", key)
	}
	return out, hit
}

// save stores a computed result. Failures are logged and counted.
func (c *Cache) save(ctx context.Context, key cachekey.Key, v any) {
	log := c.logger.WithContext(ctx)
	entry, err := c.codec.Encode(v)
	if err != nil {
		c.counters.unencodable.Add(1)
		log.Warn("Result for %s is not cacheable: %s", key, err)
		return
	}
	if err := c.put(ctx, key, entry); err != nil {
		if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
			c.counters.bypassed.Add(1)
			return
		}
		c.counters.storeErrors.Add(1)
		log.Warn("Storing %s failed: %s", key, err)
		return
	}
	c.counters.stores.Add(1)
}

// put writes one entry through the breaker, retrying lost write conflicts.
func (c *Cache) put(ctx context.Context, key cachekey.Key, entry []byte) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	err := resilience.Retry(ctx, c.retry, func() error {
		wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
		return store.Write(wctx, c.engine, func(tx store.WriteTxn) error {
			return tx.Put(key[:], entry)
		})
	})
	c.breaker.Done(err)
	return err
}
