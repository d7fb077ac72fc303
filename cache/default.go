package cache

import (
	"os"
	"sync"

	"github.com/agentuity/memo/logger"
	"github.com/agentuity/memo/store"
	"github.com/agentuity/memo/sys"
	"github.com/cockroachdb/errors"
)

const (
	// EnvPath overrides the location of the default cache file.
	EnvPath = "MEMO_PATH"
	// EnvBackend selects the default cache's store backend.
	EnvBackend = "MEMO_BACKEND"
)

var (
	defaultOnce  sync.Once
	defaultCache *Cache
)

// DefaultPath returns $MEMO_PATH or the platform default cache file.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return sys.DefaultCachePath()
}

// Default returns the process-wide cache, opening it on first use at
// DefaultPath. When it cannot be opened a warning is logged and nil is
// returned, which runs every computation uncached.
func Default() *Cache {
	defaultOnce.Do(func() {
		log := logger.NewConsoleLogger().WithPrefix("[memo]")
		c, err := openDefault(log)
		if err != nil {
			log.Warn("Cache unavailable, results will not be cached: %s", err)
			return
		}
		defaultCache = c
	})
	return defaultCache
}

func openDefault(log logger.Logger) (*Cache, error) {
	var storeOpts []store.Option
	if b := os.Getenv(EnvBackend); b != "" {
		backend, err := store.ParseBackend(b)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", EnvBackend)
		}
		storeOpts = append(storeOpts, store.WithBackend(backend))
	}
	return Open(DefaultPath(), WithLogger(log), WithStoreOptions(storeOpts...))
}

// Shutdown flushes and closes the default cache if it was opened. Default
// returns nil or the closed cache afterwards, both of which run uncached.
func Shutdown() error {
	defaultOnce.Do(func() {})
	if defaultCache == nil {
		return nil
	}
	return errors.CombineErrors(defaultCache.Flush(), defaultCache.Close())
}
