// Package store is the persistent, transactional key-value layer of the cache.
//
// A database is a single file holding a "cache" table of key to entry bytes
// and a "meta" table recording the schema version. Two engines implement
// [Engine]:
//
//   - [BackendBolt] (default) is a memory-mapped copy-on-write B+tree. Readers
//     run on a consistent snapshot and never block the single writer; values
//     are returned without copying, straight from the mapping.
//   - [BackendSQLite] is SQLite in WAL mode with a serialized writer pool and
//     a separate reader pool. Values are copied out of the database.
//
// # Transactions
//
// Every transaction is Active until it commits or aborts; afterwards all of
// its methods fail with [ErrTxnClosed]. Commit is all-or-nothing and durable
// before it returns. Abort is idempotent and cannot fail.
//
// Values are returned as [Borrowed] views tied to their transaction. Reading a
// view after the transaction ends fails with [ErrViewExpired] instead of
// touching memory the engine may have unmapped or reused. Call
// [Borrowed.Copy] to keep a value. [Read] and [Write] scope a transaction to a
// callback and end it on every exit path.
//
// # Handles
//
// [Open] keeps one engine per absolute path in the process. Opening the same
// path again attaches a new [Handle] to the existing engine; the engine is
// closed with the last handle. A bolt file opened by another process is
// guarded by an OS file lock: Open waits up to the lock timeout and then fails
// with [ErrLocked].
//
// # Errors
//
// Failures of the database or filesystem are marked [ErrStorage]. A writer
// that cannot acquire the write lock in time fails with
// [ErrTransactionConflict] and may be retried.
package store
