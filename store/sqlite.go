package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqliteEngine struct {
	writer *sql.DB
	reader *sql.DB
	path   string
}

var _ Engine = (*sqliteEngine)(nil)

func sqliteDSN(path string, cfg config, write bool) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout.Milliseconds()))
	if write {
		q.Set("_txlock", "immediate")
	} else {
		q.Add("_pragma", "query_only(1)")
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(path string, cfg config) (*sqliteEngine, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, cfg.fileMode)
		if err != nil {
			return nil, storageError(err, "creating %s", path)
		}
		_ = f.Close()
	}
	writer, err := sql.Open("sqlite", sqliteDSN(path, cfg, true))
	if err != nil {
		return nil, storageError(err, "opening %s", path)
	}
	writer.SetMaxOpenConns(1)

	if _, err := writer.Exec(`CREATE TABLE IF NOT EXISTS cache (
		key BLOB PRIMARY KEY,
		value BLOB NOT NULL
	) WITHOUT ROWID`); err != nil {
		_ = writer.Close()
		return nil, storageError(err, "initializing %s", path)
	}
	if _, err := writer.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = writer.Close()
		return nil, storageError(err, "initializing %s", path)
	}
	var stored sql.NullString
	err = writer.QueryRow(`SELECT value FROM meta WHERE key = ?`, schemaKey).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = writer.Close()
		return nil, storageError(err, "reading schema of %s", path)
	}
	var current []byte
	if stored.Valid {
		current = []byte(stored.String)
	}
	err = checkSchema(current, func() error {
		_, err := writer.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, schemaKey, SchemaVersion)
		return err
	})
	if err != nil {
		_ = writer.Close()
		return nil, storageError(err, "initializing %s", path)
	}

	reader, err := sql.Open("sqlite", sqliteDSN(path, cfg, false))
	if err != nil {
		_ = writer.Close()
		return nil, storageError(err, "opening %s", path)
	}
	reader.SetMaxOpenConns(cfg.readConns)
	return &sqliteEngine{writer: writer, reader: reader, path: path}, nil
}

// isBusy reports whether err is SQLite refusing a lock held by another
// connection.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func sqliteError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return errors.Mark(errors.Wrapf(err, format, args...), ErrTransactionConflict)
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrStorage)
}

func (e *sqliteEngine) BeginRead(ctx context.Context) (ReadTxn, error) {
	tx, err := e.reader.BeginTx(ctx, nil)
	if err != nil {
		return nil, sqliteError(err, "beginning read transaction")
	}
	// a deferred transaction takes its snapshot at the first read
	var v string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, schemaKey).Scan(&v); err != nil {
		_ = tx.Rollback()
		return nil, sqliteError(err, "pinning read snapshot")
	}
	return &sqliteTxn{ctx: ctx, tx: tx}, nil
}

func (e *sqliteEngine) BeginWrite(ctx context.Context) (WriteTxn, error) {
	tx, err := e.writer.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, errors.Mark(errors.Wrap(err, "waiting for write lock"), ErrTransactionConflict)
		}
		return nil, sqliteError(err, "beginning write transaction")
	}
	return &sqliteTxn{ctx: ctx, tx: tx, writable: true}, nil
}

func (e *sqliteEngine) Sync() error {
	_, err := e.writer.Exec(`PRAGMA wal_checkpoint(FULL)`)
	return sqliteError(err, "checkpointing %s", e.path)
}

func (e *sqliteEngine) Close() error {
	rerr := e.reader.Close()
	werr := e.writer.Close()
	return storageError(errors.CombineErrors(werr, rerr), "closing %s", e.path)
}

func (e *sqliteEngine) Path() string {
	return e.path
}

func (e *sqliteEngine) Backend() Backend {
	return BackendSQLite
}

func (e *sqliteEngine) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: BackendSQLite, Path: e.path}
	var payload sql.NullInt64
	err := e.reader.QueryRowContext(ctx, `SELECT COUNT(*), SUM(LENGTH(value)) FROM cache`).Scan(&st.Entries, &payload)
	if err != nil {
		return st, sqliteError(err, "reading stats")
	}
	st.PayloadBytes = payload.Int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if fi, err := os.Stat(e.path + suffix); err == nil {
			st.FileBytes += fi.Size()
		}
	}
	return st, nil
}

func (e *sqliteEngine) Compact(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return errors.Mark(errors.Newf("compact destination %s already exists", dst), ErrStorage)
	}
	_, err := e.writer.ExecContext(ctx, `VACUUM INTO ?`, dst)
	return sqliteError(err, "compacting into %s", dst)
}

type sqliteTxn struct {
	lifecycle
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

var _ WriteTxn = (*sqliteTxn)(nil)

func (t *sqliteTxn) Get(key []byte) (Borrowed, bool, error) {
	if err := t.check(); err != nil {
		return Borrowed{}, false, err
	}
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return Borrowed{}, false, nil
	}
	if err != nil {
		return Borrowed{}, false, sqliteError(err, "get")
	}
	if v == nil {
		v = []byte{}
	}
	return Borrowed{data: v, life: &t.lifecycle}, true, nil
}

func (t *sqliteTxn) ForEach(fn func(key []byte, value Borrowed) error) error {
	if err := t.check(); err != nil {
		return err
	}
	rows, err := t.tx.QueryContext(t.ctx, `SELECT key, value FROM cache ORDER BY key`)
	if err != nil {
		return sqliteError(err, "scanning entries")
	}
	defer rows.Close()
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return sqliteError(err, "scanning entries")
		}
		if err := fn(k, Borrowed{data: v, life: &t.lifecycle}); err != nil {
			return err
		}
	}
	return sqliteError(rows.Err(), "scanning entries")
}

func (t *sqliteTxn) Len() (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM cache`).Scan(&n); err != nil {
		return 0, sqliteError(err, "counting entries")
	}
	return n, nil
}

func (t *sqliteTxn) writeCheck() error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.writable {
		return errors.Mark(errors.New("transaction is read-only"), ErrStorage)
	}
	return nil
}

func (t *sqliteTxn) Put(key, value []byte) error {
	if err := t.writeCheck(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO cache (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return sqliteError(err, "put")
}

func (t *sqliteTxn) Delete(key []byte) error {
	if err := t.writeCheck(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM cache WHERE key = ?`, key)
	return sqliteError(err, "delete")
}

func (t *sqliteTxn) Clear() error {
	if err := t.writeCheck(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM cache`)
	return sqliteError(err, "clear")
}

func (t *sqliteTxn) Commit() error {
	if err := t.writeCheck(); err != nil {
		return err
	}
	err := t.tx.Commit()
	if err != nil {
		t.resolve(TxnAborted)
		_ = t.tx.Rollback()
		return sqliteError(err, "commit")
	}
	t.resolve(TxnCommitted)
	return nil
}

func (t *sqliteTxn) Abort() {
	if t.resolve(TxnAborted) {
		_ = t.tx.Rollback()
	}
}
