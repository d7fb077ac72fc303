package store

import (
	"context"
	"os"
	"time"

	"github.com/agentuity/memo/logger"
	"github.com/cockroachdb/errors"
)

var (
	// ErrStorage marks failures of the underlying database or filesystem.
	ErrStorage = errors.New("storage error")
	// ErrTransactionConflict marks a write transaction that could not acquire
	// or commit because of a concurrent writer. Retrying may succeed.
	ErrTransactionConflict = errors.New("transaction conflict")
	// ErrTxnClosed is returned by operations on a committed or aborted transaction.
	ErrTxnClosed = errors.New("transaction closed")
	// ErrViewExpired is returned when a Borrowed view outlives its transaction.
	ErrViewExpired = errors.New("borrowed view used after its transaction ended")
	// ErrLocked marks an open that timed out waiting for another process's
	// file lock. Errors marked ErrLocked are also marked ErrStorage.
	ErrLocked = errors.New("database locked by another process")
	// ErrClosed is returned by a Handle after Close.
	ErrClosed = errors.New("database closed")
)

// SchemaVersion is the layout version recorded in the meta table.
const SchemaVersion = "1"

const (
	cacheTable = "cache"
	metaTable  = "meta"
	schemaKey  = "schema"
)

// Backend names a storage engine implementation.
type Backend string

const (
	// BackendBolt is a memory-mapped B+tree with MVCC readers and a single
	// writer. Reads are zero-copy.
	BackendBolt Backend = "bolt"
	// BackendSQLite is SQLite in WAL mode. Reads are copies.
	BackendSQLite Backend = "sqlite"
)

// ParseBackend accepts "bolt" or "sqlite"; empty selects bolt.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendBolt, "":
		return BackendBolt, nil
	case BackendSQLite:
		return BackendSQLite, nil
	}
	return "", errors.Newf("unknown backend %q (expected bolt or sqlite)", s)
}

// Engine is a transactional key-value store with snapshot-isolated readers
// and serialized writers.
type Engine interface {
	// BeginRead starts a read transaction on the latest committed snapshot.
	BeginRead(ctx context.Context) (ReadTxn, error)
	// BeginWrite starts the single write transaction, waiting for the
	// current writer to finish.
	BeginWrite(ctx context.Context) (WriteTxn, error)
	// Sync flushes anything the engine buffers to stable storage.
	Sync() error
	// Close releases the engine. Open transactions must be finished first.
	Close() error
	// Path returns the backing file.
	Path() string
	// Backend reports the engine kind.
	Backend() Backend
	// Stats reports entry count and sizes.
	Stats(ctx context.Context) (Stats, error)
	// Compact writes a defragmented copy of the database to dst.
	Compact(ctx context.Context, dst string) error
}

// ReadTxn is a snapshot of the store. Values it returns are only valid until
// the transaction ends.
type ReadTxn interface {
	// Get returns the value stored under key. The bool is false when absent.
	Get(key []byte) (Borrowed, bool, error)
	// ForEach calls fn for every entry in key order. The key slice is only
	// valid during the call. Returning an error stops the iteration.
	ForEach(fn func(key []byte, value Borrowed) error) error
	// Len returns the number of entries.
	Len() (int, error)
	// Abort ends the transaction. It is idempotent and never fails.
	Abort()
}

// WriteTxn extends ReadTxn with mutations that become visible atomically on
// Commit.
type WriteTxn interface {
	ReadTxn
	Put(key, value []byte) error
	Delete(key []byte) error
	// Clear removes every entry.
	Clear() error
	// Commit durably applies the transaction. On failure nothing is applied
	// and the transaction is aborted.
	Commit() error
}

// Stats describes a database.
type Stats struct {
	Backend      Backend `json:"backend" yaml:"backend"`
	Path         string  `json:"path" yaml:"path"`
	Entries      int     `json:"entries" yaml:"entries"`
	PayloadBytes int64   `json:"payload_bytes" yaml:"payload_bytes"`
	FileBytes    int64   `json:"file_bytes" yaml:"file_bytes"`
}

// DefaultLockTimeout bounds how long Open waits for another process to
// release the database file lock.
const DefaultLockTimeout = 5 * time.Second

// DefaultBusyTimeout bounds how long a SQLite writer waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// DefaultMmapSize is the initial bolt memory map size.
const DefaultMmapSize = 64 << 20

type config struct {
	backend     Backend
	lockTimeout time.Duration
	busyTimeout time.Duration
	readConns   int
	mmapSize    int
	fileMode    os.FileMode
	logger      logger.Logger
}

// Option configures Open.
type Option func(*config)

func defaultConfig() config {
	return config{
		backend:     BackendBolt,
		lockTimeout: DefaultLockTimeout,
		busyTimeout: DefaultBusyTimeout,
		readConns:   8,
		mmapSize:    DefaultMmapSize,
		fileMode:    0o600,
	}
}

// WithBackend selects the engine. Defaults to BackendBolt.
func WithBackend(b Backend) Option {
	return func(c *config) { c.backend = b }
}

// WithLockTimeout sets how long Open waits for a file lock held by another
// process before failing with ErrLocked. Defaults to DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(c *config) { c.lockTimeout = d }
}

// WithBusyTimeout sets the SQLite busy timeout. Defaults to DefaultBusyTimeout.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) { c.busyTimeout = d }
}

// WithReadConns sets the SQLite reader pool size.
func WithReadConns(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.readConns = n
		}
	}
}

// WithMmapSize sets the initial bolt memory map size. While the database
// fits in the mapping, a commit never waits for open readers to remap.
func WithMmapSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.mmapSize = n
		}
	}
}

// WithFileMode sets the permissions of a newly created database file.
func WithFileMode(mode os.FileMode) Option {
	return func(c *config) { c.fileMode = mode }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logger.Logger) Option {
	return func(c *config) { c.logger = l }
}

func storageError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.WrapWithDepthf(1, err, format, args...), ErrStorage)
}
