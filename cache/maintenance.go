package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"

	"github.com/agentuity/memo/cachekey"
	"github.com/agentuity/memo/codec"
	"github.com/agentuity/memo/store"
	"github.com/cockroachdb/errors"
)

// Entry is an owned copy of a stored result.
type Entry struct {
	Key         cachekey.Key      `json:"key" yaml:"key"`
	Format      codec.Format      `json:"format" yaml:"format"`
	Compression codec.Compression `json:"compression" yaml:"compression"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	// Size is the stored length including the header.
	Size int `json:"size" yaml:"size"`
	// Payload is the decompressed result payload.
	Payload []byte `json:"-" yaml:"-"`
}

func newEntry(key cachekey.Key, env codec.Envelope) (Entry, error) {
	body, err := env.Body()
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Key:         key,
		Format:      env.Format,
		Compression: env.Compression,
		CreatedAt:   env.CreatedAt,
		Size:        env.Size(),
		Payload:     bytes.Clone(body),
	}, nil
}

// Get returns the entry stored under key. A corrupt entry is reported with an
// error marked codec.ErrCorrupt.
func (c *Cache) Get(ctx context.Context, key cachekey.Key) (Entry, bool, error) {
	if c == nil {
		return Entry{}, false, errNoCache
	}

	var (
		out   Entry
		found bool
	)
	err := store.Read(ctx, c.engine, func(tx store.ReadTxn) error {
		b, ok, err := tx.Get(key.Bytes())
		if err != nil || !ok {
			return err
		}
		data, err := b.Bytes()
		if err != nil {
			return err
		}
		env, err := codec.Open(data)
		if err != nil {
			return errors.Wrapf(err, "entry %s", key)
		}
		out, err = newEntry(key, env)
		found = err == nil
		return err
	})
	return out, found, err
}

// Put encodes v and stores it as the result of call, replacing any previous
// entry. Unlike LookupOrCompute it reports failures.
func (c *Cache) Put(ctx context.Context, call Call, v any) error {
	if c == nil {
		return errNoCache
	}

	if call.Fingerprint.IsZero() {
		return errors.New("cannot store a result without a fingerprint")
	}
	key, err := c.Key(call)
	if err != nil {
		return err
	}
	entry, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	return c.put(ctx, key, entry)
}

// Delete removes the given keys and returns how many were present.
func (c *Cache) Delete(ctx context.Context, keys ...cachekey.Key) (int, error) {
	if c == nil {
		return 0, errNoCache
	}

	var removed int
	err := store.Write(ctx, c.engine, func(tx store.WriteTxn) error {
		removed = 0
		for i := range keys {
			_, ok, err := tx.Get(keys[i].Bytes())
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := tx.Delete(keys[i].Bytes()); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Purge removes every entry and returns how many there were.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	if c == nil {
		return 0, errNoCache
	}

	var n int
	err := store.Write(ctx, c.engine, func(tx store.WriteTxn) error {
		var err error
		if n, err = tx.Len(); err != nil {
			return err
		}
		return tx.Clear()
	})
	if err != nil {
		return 0, err
	}
	c.logger.Info("Purged %d entries from %s", n, c.engine.Path())
	return n, nil
}

// Prune removes entries created before cutoff and returns how many were
// removed. Unreadable entries are left for Verify.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if c == nil {
		return 0, errNoCache
	}

	var n int
	err := store.Write(ctx, c.engine, func(tx store.WriteTxn) error {
		var stale [][]byte
		err := tx.ForEach(func(key []byte, value store.Borrowed) error {
			data, err := value.Bytes()
			if err != nil {
				return err
			}
			env, err := codec.Open(data)
			if err != nil {
				return nil
			}
			if env.CreatedAt.Before(cutoff) {
				stale = append(stale, bytes.Clone(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logger.Debug("Pruned %d entries created before %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Checked int `json:"checked" yaml:"checked"`
	// Corrupt lists the hex keys of entries that failed validation.
	Corrupt []string `json:"corrupt" yaml:"corrupt"`
	Removed int      `json:"removed" yaml:"removed"`
}

// Verify validates every entry's header, checksum and compression. With
// remove set, invalid entries are deleted in the same transaction.
func (c *Cache) Verify(ctx context.Context, remove bool) (VerifyReport, error) {
	if c == nil {
		return VerifyReport{}, errNoCache
	}

	var report VerifyReport
	check := func(tx store.ReadTxn) ([][]byte, error) {
		var bad [][]byte
		report = VerifyReport{}
		err := tx.ForEach(func(key []byte, value store.Borrowed) error {
			report.Checked++
			data, err := value.Bytes()
			if err != nil {
				return err
			}
			if validEntry(key, data) {
				return nil
			}
			bad = append(bad, bytes.Clone(key))
			report.Corrupt = append(report.Corrupt, hex.EncodeToString(key))
			return nil
		})
		return bad, err
	}

	if !remove {
		err := store.Read(ctx, c.engine, func(tx store.ReadTxn) error {
			_, err := check(tx)
			return err
		})
		return report, err
	}

	err := store.Write(ctx, c.engine, func(tx store.WriteTxn) error {
		bad, err := check(tx)
		if err != nil {
			return err
		}
		for _, key := range bad {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		report.Removed = len(bad)
		return nil
	})
	if err != nil {
		return VerifyReport{}, err
	}
	if report.Removed > 0 {
		c.logger.Warn("Removed %d corrupt entries from %s", report.Removed, c.engine.Path())
	}
	return report, nil
}

func validEntry(key, data []byte) bool {
	if len(key) != cachekey.Size {
		return false
	}
	env, err := codec.Open(data)
	if err != nil {
		return false
	}
	_, err = env.Body()
	return err == nil
}

// Borrow gives fn zero-copy access to the decompressed payload stored for
// call. The view is only valid inside fn. It reports whether an entry was
// found; storage and corruption errors are returned.
func Borrow(ctx context.Context, c *Cache, call Call, fn func(payload store.Borrowed) error) (bool, error) {
	if !c.enabled(call) {
		return false, nil
	}
	key, err := c.Key(call)
	if err != nil {
		return false, err
	}
	var found bool
	err = store.Read(ctx, c.engine, func(tx store.ReadTxn) error {
		b, ok, err := tx.Get(key.Bytes())
		if err != nil || !ok {
			return err
		}
		data, err := b.Bytes()
		if err != nil {
			return err
		}
		env, err := codec.Open(data)
		if err != nil {
			return errors.Wrapf(err, "entry %s", key)
		}
		view := b.Derive(env.Payload)
		if env.Compression != codec.CompressionNone {
			body, err := env.Body()
			if err != nil {
				return err
			}
			view = store.Owned(body)
		}
		found = true
		return fn(view)
	})
	return found, err
}

// Compact writes a defragmented copy of the cache file to dst.
func (c *Cache) Compact(ctx context.Context, dst string) error {
	if c == nil {
		return errNoCache
	}
	return c.engine.Compact(ctx, dst)
}

// Flush forces buffered writes to stable storage.
func (c *Cache) Flush() error {
	if c == nil || c.closed.Load() {
		return nil
	}
	return c.engine.Sync()
}

// Close stops the cache from touching the store. The store itself is closed
// when the cache opened it. Calls made after Close run uncached.
func (c *Cache) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !c.owned {
		return nil
	}
	return c.engine.Close()
}
