package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/agentuity/memo/logger"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// shared is one open engine and the number of handles attached to it.
type shared struct {
	id     uuid.UUID
	engine Engine
	refs   int
	logger logger.Logger
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*shared)
)

// Handle is a process-wide reference to an open database. Opening a path
// that is already open attaches to the same engine; the engine is closed when
// the last handle is closed. Handles are safe for concurrent use.
type Handle struct {
	path   string
	shared *shared
	closed atomic.Bool
}

var _ Engine = (*Handle)(nil)

// Open returns a handle to the database at path, creating parent
// directories, the file and its schema when absent. Failures are marked
// ErrStorage; a lock held by another process is additionally marked ErrLocked.
func Open(path string, opts ...Option) (*Handle, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	if path == "" {
		return nil, errors.Mark(errors.New("empty database path"), ErrStorage)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, storageError(err, "resolving %s", path)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[abs]; ok {
		if s.engine.Backend() != cfg.backend {
			return nil, errors.Mark(errors.Newf("%s is already open with backend %s", abs, s.engine.Backend()), ErrStorage)
		}
		s.refs++
		s.logger.Trace("attached to open database %s (id %s, refs %d)", abs, s.id, s.refs)
		return &Handle{path: abs, shared: s}, nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, storageError(err, "creating directory for %s", abs)
	}
	var engine Engine
	switch cfg.backend {
	case BackendBolt:
		engine, err = openBolt(abs, cfg)
	case BackendSQLite:
		engine, err = openSQLite(abs, cfg)
	default:
		return nil, errors.Mark(errors.Newf("unknown backend %q", cfg.backend), ErrStorage)
	}
	if err != nil {
		return nil, err
	}
	s := &shared{id: uuid.New(), engine: engine, refs: 1, logger: cfg.logger}
	registry[abs] = s
	s.logger.Debug("opened %s database %s (id %s)", cfg.backend, abs, s.id)
	return &Handle{path: abs, shared: s}, nil
}

// ID identifies the underlying engine. Attached handles share an ID.
func (h *Handle) ID() uuid.UUID {
	return h.shared.id
}

// Engine returns the engine behind the handle.
func (h *Handle) Engine() Engine {
	return h.shared.engine
}

func (h *Handle) live() error {
	if h.closed.Load() {
		return errors.Mark(ErrClosed, ErrStorage)
	}
	return nil
}

func (h *Handle) BeginRead(ctx context.Context) (ReadTxn, error) {
	if err := h.live(); err != nil {
		return nil, err
	}
	return h.shared.engine.BeginRead(ctx)
}

func (h *Handle) BeginWrite(ctx context.Context) (WriteTxn, error) {
	if err := h.live(); err != nil {
		return nil, err
	}
	return h.shared.engine.BeginWrite(ctx)
}

func (h *Handle) Sync() error {
	if err := h.live(); err != nil {
		return err
	}
	return h.shared.engine.Sync()
}

func (h *Handle) Path() string {
	return h.path
}

func (h *Handle) Backend() Backend {
	return h.shared.engine.Backend()
}

func (h *Handle) Stats(ctx context.Context) (Stats, error) {
	if err := h.live(); err != nil {
		return Stats{}, err
	}
	return h.shared.engine.Stats(ctx)
}

func (h *Handle) Compact(ctx context.Context, dst string) error {
	if err := h.live(); err != nil {
		return err
	}
	return h.shared.engine.Compact(ctx, dst)
}

// Close detaches the handle. The engine is closed with the last handle.
// Closing a handle twice is a no-op.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	s := h.shared
	s.refs--
	if s.refs > 0 {
		s.logger.Trace("detached from %s (id %s, refs %d)", h.path, s.id, s.refs)
		return nil
	}
	delete(registry, h.path)
	s.logger.Debug("closing database %s (id %s)", h.path, s.id)
	return s.engine.Close()
}
