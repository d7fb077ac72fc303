package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

var backends = []Backend{BackendBolt, BackendSQLite}

func openTemp(t *testing.T, b Backend, opts ...Option) *Handle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	h, err := Open(path, append([]Option{WithBackend(b)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func put(t *testing.T, e Engine, kv ...string) {
	t.Helper()
	require.NoError(t, Write(context.Background(), e, func(tx WriteTxn) error {
		for i := 0; i < len(kv); i += 2 {
			if err := tx.Put([]byte(kv[i]), []byte(kv[i+1])); err != nil {
				return err
			}
		}
		return nil
	}))
}

func get(t *testing.T, e Engine, key string) (string, bool) {
	t.Helper()
	var out string
	var found bool
	require.NoError(t, Read(context.Background(), e, func(tx ReadTxn) error {
		v, ok, err := tx.Get([]byte(key))
		if err != nil || !ok {
			return err
		}
		found = true
		b, err := v.Copy()
		out = string(b)
		return err
	}))
	return out, found
}

func eachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) { fn(t, b) })
	}
}

func TestPutGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		assert.Equal(t, b, h.Backend())

		_, found := get(t, h, "missing")
		assert.False(t, found)

		put(t, h, "a", "1", "b", "2")
		v, found := get(t, h, "a")
		assert.True(t, found)
		assert.Equal(t, "1", v)

		put(t, h, "a", "3")
		v, _ = get(t, h, "a")
		assert.Equal(t, "3", v, "last write wins")
	})
}

func TestDurableAcrossReopen(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		path := filepath.Join(t.TempDir(), "cache.db")
		h, err := Open(path, WithBackend(b))
		require.NoError(t, err)
		put(t, h, "k", "persisted")
		require.NoError(t, h.Close())

		h, err = Open(path, WithBackend(b))
		require.NoError(t, err)
		defer h.Close()
		v, found := get(t, h, "k")
		assert.True(t, found)
		assert.Equal(t, "persisted", v)
	})
}

func TestSnapshotIsolation(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()
		put(t, h, "old", "x")

		reader, err := h.BeginRead(ctx)
		require.NoError(t, err)
		defer reader.Abort()

		put(t, h, "new", "y")

		_, found, err := reader.Get([]byte("new"))
		require.NoError(t, err)
		assert.False(t, found, "a reader must not see commits made after it began")
		_, found, err = reader.Get([]byte("old"))
		require.NoError(t, err)
		assert.True(t, found)

		_, found = get(t, h, "new")
		assert.True(t, found)
	})
}

func TestAbortDiscardsWrites(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()

		tx, err := h.BeginWrite(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Put([]byte("k"), []byte("v")))
		tx.Abort()
		tx.Abort()
		_, found := get(t, h, "k")
		assert.False(t, found)

		boom := errors.New("boom")
		err = Write(ctx, h, func(tx WriteTxn) error {
			require.NoError(t, tx.Put([]byte("k"), []byte("v")))
			return boom
		})
		assert.ErrorIs(t, err, boom)
		_, found = get(t, h, "k")
		assert.False(t, found)

		assert.Panics(t, func() {
			_ = Write(ctx, h, func(tx WriteTxn) error {
				_ = tx.Put([]byte("k"), []byte("v"))
				panic("mid-transaction")
			})
		})
		_, found = get(t, h, "k")
		assert.False(t, found)

		// the writer lock was released by the panic
		put(t, h, "after", "ok")
		v, _ := get(t, h, "after")
		assert.Equal(t, "ok", v)
	})
}

func TestResolvedTransactionRejectsOperations(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()

		tx, err := h.BeginWrite(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Put([]byte("k"), []byte("v")))
		require.NoError(t, tx.Commit())

		assert.True(t, errors.Is(tx.Put([]byte("k2"), []byte("v")), ErrTxnClosed))
		assert.True(t, errors.Is(tx.Commit(), ErrTxnClosed))
		_, _, err = tx.Get([]byte("k"))
		assert.True(t, errors.Is(err, ErrTxnClosed))
		tx.Abort()

		rt, err := h.BeginRead(ctx)
		require.NoError(t, err)
		rt.Abort()
		_, err = rt.Len()
		assert.True(t, errors.Is(err, ErrTxnClosed))
	})
}

func TestBorrowedExpires(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		put(t, h, "k", "value")

		var view Borrowed
		var kept []byte
		require.NoError(t, Read(context.Background(), h, func(tx ReadTxn) error {
			v, ok, err := tx.Get([]byte("k"))
			require.True(t, ok)
			view = v
			s, err2 := v.String()
			require.NoError(t, err2)
			assert.Equal(t, "value", s)
			n, err2 := v.Len()
			require.NoError(t, err2)
			assert.Equal(t, 5, n)
			kept, _ = v.Copy()
			return err
		}))

		assert.False(t, view.Valid())
		_, err := view.Bytes()
		assert.ErrorIs(t, err, ErrViewExpired)
		_, err = view.String()
		assert.ErrorIs(t, err, ErrViewExpired)
		_, err = view.Copy()
		assert.ErrorIs(t, err, ErrViewExpired)
		_, err = view.Derive(nil).Len()
		assert.ErrorIs(t, err, ErrViewExpired)
		assert.Equal(t, "value", string(kept))
	})
}

func TestOwnedNeverExpires(t *testing.T) {
	v := Owned([]byte("x"))
	b, err := v.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), b)
	assert.True(t, v.Valid())
}

func TestForEachLenDeleteClear(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()
		put(t, h, "c", "3", "a", "1", "b", "2")

		var keys []string
		require.NoError(t, Read(ctx, h, func(tx ReadTxn) error {
			n, err := tx.Len()
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			return tx.ForEach(func(k []byte, _ Borrowed) error {
				keys = append(keys, string(k))
				return nil
			})
		}))
		assert.Equal(t, []string{"a", "b", "c"}, keys)

		require.NoError(t, Write(ctx, h, func(tx WriteTxn) error {
			return tx.Delete([]byte("b"))
		}))
		_, found := get(t, h, "b")
		assert.False(t, found)

		require.NoError(t, Write(ctx, h, func(tx WriteTxn) error {
			return tx.Clear()
		}))
		require.NoError(t, Read(ctx, h, func(tx ReadTxn) error {
			n, err := tx.Len()
			assert.Zero(t, n)
			return err
		}))
	})
}

func TestOpenAttachesToSameHandle(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		path := filepath.Join(t.TempDir(), "cache.db")
		h1, err := Open(path, WithBackend(b))
		require.NoError(t, err)
		h2, err := Open(path, WithBackend(b))
		require.NoError(t, err)
		assert.Equal(t, h1.ID(), h2.ID())
		assert.Same(t, h1.Engine(), h2.Engine())

		_, err = Open(path, WithBackend(otherBackend(b)))
		assert.True(t, errors.Is(err, ErrStorage))

		put(t, h1, "k", "v")
		require.NoError(t, h1.Close())
		require.NoError(t, h1.Close())

		_, err = h1.BeginRead(context.Background())
		assert.True(t, errors.Is(err, ErrClosed))

		v, found := get(t, h2, "k")
		assert.True(t, found, "the engine stays open while a handle is attached")
		assert.Equal(t, "v", v)
		require.NoError(t, h2.Close())

		h3, err := Open(path, WithBackend(b))
		require.NoError(t, err)
		defer h3.Close()
		assert.NotEqual(t, h1.ID(), h3.ID())
	})
}

func otherBackend(b Backend) Backend {
	if b == BackendBolt {
		return BackendSQLite
	}
	return BackendBolt
}

func TestOpenFailures(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
		_, err := Open(filepath.Join(blocker, "cache.db"), WithBackend(b))
		assert.True(t, errors.Is(err, ErrStorage), "%v", err)

		garbage := filepath.Join(dir, "garbage.db")
		junk := make([]byte, 64<<10)
		for i := range junk {
			junk[i] = byte(i*31 + 7)
		}
		require.NoError(t, os.WriteFile(garbage, junk, 0o600))
		_, err = Open(garbage, WithBackend(b))
		assert.True(t, errors.Is(err, ErrStorage), "%v", err)

		_, err = Open("", WithBackend(b))
		assert.True(t, errors.Is(err, ErrStorage))
	})
}

func TestBoltLockedByAnotherOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cfg := defaultConfig()
	cfg.lockTimeout = 100 * time.Millisecond

	first, err := openBolt(path, cfg)
	require.NoError(t, err)
	defer first.Close()

	_, err = openBolt(path, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.True(t, errors.Is(err, ErrStorage))
}

func TestIncompatibleSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put([]byte(schemaKey), []byte("99"))
	}))
	require.NoError(t, db.Close())

	_, err = Open(path)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "incompatible schema")
}

func TestWriterWaitTimesOutAsConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		holder, err := h.BeginWrite(context.Background())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err = h.BeginWrite(ctx)
		assert.True(t, errors.Is(err, ErrTransactionConflict), "%v", err)

		holder.Abort()
		put(t, h, "k", "v")
	})
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()
		var g errgroup.Group
		for w := range 4 {
			g.Go(func() error {
				for i := range 25 {
					key := []byte(fmt.Sprintf("w%d-%d", w, i))
					if err := Write(ctx, h, func(tx WriteTxn) error {
						return tx.Put(key, key)
					}); err != nil {
						return err
					}
				}
				return nil
			})
		}
		for range 4 {
			g.Go(func() error {
				for range 25 {
					if err := Read(ctx, h, func(tx ReadTxn) error {
						return tx.ForEach(func(k []byte, v Borrowed) error {
							data, err := v.Bytes()
							if err != nil {
								return err
							}
							if string(k) != string(data) {
								return errors.Newf("torn entry %s", k)
							}
							return nil
						})
					}); err != nil {
						return err
					}
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		st, err := h.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100, st.Entries)
	})
}

func TestStatsAndCompact(t *testing.T) {
	eachBackend(t, func(t *testing.T, b Backend) {
		h := openTemp(t, b)
		ctx := context.Background()
		put(t, h, "a", "12345", "b", "678")

		st, err := h.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, b, st.Backend)
		assert.Equal(t, 2, st.Entries)
		assert.EqualValues(t, 8, st.PayloadBytes)
		assert.Positive(t, st.FileBytes)
		require.NoError(t, h.Sync())

		dst := filepath.Join(t.TempDir(), "compact.db")
		require.NoError(t, h.Compact(ctx, dst))
		assert.True(t, errors.Is(h.Compact(ctx, dst), ErrStorage), "existing destination is refused")

		c, err := Open(dst, WithBackend(b))
		require.NoError(t, err)
		defer c.Close()
		v, found := get(t, c, "a")
		assert.True(t, found)
		assert.Equal(t, "12345", v)
	})
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendBolt, b)
	b, err = ParseBackend("sqlite")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, b)
	_, err = ParseBackend("redb")
	assert.Error(t, err)
}
