package store

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	cacheBucket = []byte(cacheTable)
	metaBucket  = []byte(metaTable)
)

// compactTxSize bounds the size of each copy transaction during Compact.
const compactTxSize = 64 << 20

type boltEngine struct {
	db   *bolt.DB
	path string
	cfg  config
}

var _ Engine = (*boltEngine)(nil)

func openBolt(path string, cfg config) (*boltEngine, error) {
	db, err := bolt.Open(path, cfg.fileMode, &bolt.Options{
		Timeout:         cfg.lockTimeout,
		InitialMmapSize: cfg.mmapSize,
	})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.Mark(storageError(err, "opening %s", path), ErrLocked)
		}
		return nil, storageError(err, "opening %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cacheBucket); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return checkSchema(meta.Get([]byte(schemaKey)), func() error {
			return meta.Put([]byte(schemaKey), []byte(SchemaVersion))
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, storageError(err, "initializing %s", path)
	}
	return &boltEngine{db: db, path: path, cfg: cfg}, nil
}

// checkSchema accepts a missing version, which is then recorded with init,
// or the current one.
func checkSchema(stored []byte, init func() error) error {
	if stored == nil {
		return init()
	}
	if string(stored) != SchemaVersion {
		return errors.Newf("incompatible schema version %q (supported %q)", stored, SchemaVersion)
	}
	return nil
}

func (e *boltEngine) BeginRead(ctx context.Context) (ReadTxn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := e.db.Begin(false)
	if err != nil {
		return nil, storageError(err, "beginning read transaction")
	}
	return &boltTxn{tx: tx}, nil
}

func (e *boltEngine) BeginWrite(ctx context.Context) (WriteTxn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		tx  *bolt.Tx
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tx, err := e.db.Begin(true)
		ch <- result{tx, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, storageError(r.err, "beginning write transaction")
		}
		return &boltTxn{tx: r.tx}, nil
	case <-ctx.Done():
		// the writer lock is released as soon as it is acquired
		go func() {
			if r := <-ch; r.tx != nil {
				_ = r.tx.Rollback()
			}
		}()
		return nil, errors.Mark(errors.Wrap(ctx.Err(), "waiting for write lock"), ErrTransactionConflict)
	}
}

func (e *boltEngine) Sync() error {
	return storageError(e.db.Sync(), "syncing %s", e.path)
}

func (e *boltEngine) Close() error {
	return storageError(e.db.Close(), "closing %s", e.path)
}

func (e *boltEngine) Path() string {
	return e.path
}

func (e *boltEngine) Backend() Backend {
	return BackendBolt
}

func (e *boltEngine) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: BackendBolt, Path: e.path}
	err := Read(ctx, e, func(rt ReadTxn) error {
		tx := rt.(*boltTxn).tx
		st.FileBytes = tx.Size()
		return tx.Bucket(cacheBucket).ForEach(func(_, v []byte) error {
			st.Entries++
			st.PayloadBytes += int64(len(v))
			return nil
		})
	})
	return st, err
}

func (e *boltEngine) Compact(ctx context.Context, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return errors.Mark(errors.Newf("compact destination %s already exists", dst), ErrStorage)
	}
	out, err := bolt.Open(dst, e.cfg.fileMode, &bolt.Options{Timeout: e.cfg.lockTimeout})
	if err != nil {
		return storageError(err, "creating %s", dst)
	}
	if err := bolt.Compact(out, e.db, compactTxSize); err != nil {
		_ = out.Close()
		return storageError(err, "compacting into %s", dst)
	}
	return storageError(out.Close(), "closing %s", dst)
}

type boltTxn struct {
	lifecycle
	tx *bolt.Tx
}

var _ WriteTxn = (*boltTxn)(nil)

func (t *boltTxn) bucket() *bolt.Bucket {
	return t.tx.Bucket(cacheBucket)
}

func (t *boltTxn) Get(key []byte) (Borrowed, bool, error) {
	if err := t.check(); err != nil {
		return Borrowed{}, false, err
	}
	v := t.bucket().Get(key)
	if v == nil {
		return Borrowed{}, false, nil
	}
	return Borrowed{data: v, life: &t.lifecycle}, true, nil
}

func (t *boltTxn) ForEach(fn func(key []byte, value Borrowed) error) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.bucket().ForEach(func(k, v []byte) error {
		return fn(k, Borrowed{data: v, life: &t.lifecycle})
	})
}

func (t *boltTxn) Len() (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	return t.bucket().Stats().KeyN, nil
}

func (t *boltTxn) Put(key, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	return storageError(t.bucket().Put(key, value), "put")
}

func (t *boltTxn) Delete(key []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	return storageError(t.bucket().Delete(key), "delete")
}

func (t *boltTxn) Clear() error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.tx.DeleteBucket(cacheBucket); err != nil {
		return storageError(err, "clear")
	}
	_, err := t.tx.CreateBucket(cacheBucket)
	return storageError(err, "clear")
}

func (t *boltTxn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.tx.Writable() {
		return errors.AssertionFailedf("commit on a read transaction")
	}
	err := t.tx.Commit()
	if err != nil {
		// bbolt rolls back on a failed commit
		t.resolve(TxnAborted)
		return storageError(err, "commit")
	}
	t.resolve(TxnCommitted)
	return nil
}

func (t *boltTxn) Abort() {
	if t.resolve(TxnAborted) {
		_ = t.tx.Rollback()
	}
}
