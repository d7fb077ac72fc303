package store

import "context"

// Read runs fn in a read transaction. The transaction ends when Read
// returns, including when fn panics, so no Borrowed view may escape fn.
func Read(ctx context.Context, e Engine, fn func(ReadTxn) error) error {
	tx, err := e.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer tx.Abort()
	return fn(tx)
}

// Write runs fn in a write transaction and commits if fn returns nil. Any
// error or panic from fn aborts the transaction.
func Write(ctx context.Context, e Engine, fn func(WriteTxn) error) error {
	tx, err := e.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Abort()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
