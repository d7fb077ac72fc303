package store

import (
	"bytes"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/savsgio/gotils/strconv"
)

// TxnState is the lifecycle position of a transaction.
type TxnState int32

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	}
	return "unknown"
}

// lifecycle is shared by a transaction and every view it hands out. Once it
// leaves TxnActive it never returns.
type lifecycle struct {
	state atomic.Int32
}

func (l *lifecycle) State() TxnState {
	return TxnState(l.state.Load())
}

func (l *lifecycle) active() bool {
	return l.State() == TxnActive
}

func (l *lifecycle) check() error {
	if s := l.State(); s != TxnActive {
		return errors.Wrapf(ErrTxnClosed, "transaction %s", s)
	}
	return nil
}

// resolve moves the transaction to its terminal state, reporting false if it
// was already resolved.
func (l *lifecycle) resolve(to TxnState) bool {
	return l.state.CompareAndSwap(int32(TxnActive), int32(to))
}

// Borrowed is a read-only view of stored bytes owned by the transaction that
// produced it. Every accessor fails with ErrViewExpired once that transaction
// has ended; use Copy to keep the data longer.
type Borrowed struct {
	data []byte
	life *lifecycle
}

// Owned wraps bytes that do not belong to any transaction. The view never
// expires.
func Owned(b []byte) Borrowed {
	return Borrowed{data: b}
}

func (b Borrowed) valid() error {
	if b.life != nil && !b.life.active() {
		return ErrViewExpired
	}
	return nil
}

// Bytes returns the underlying slice without copying. The slice must not be
// modified or used after the transaction ends.
func (b Borrowed) Bytes() ([]byte, error) {
	if err := b.valid(); err != nil {
		return nil, err
	}
	return b.data, nil
}

// String returns the bytes as a string sharing the same memory.
func (b Borrowed) String() (string, error) {
	if err := b.valid(); err != nil {
		return "", err
	}
	return strconv.B2S(b.data), nil
}

// Len returns the view's length.
func (b Borrowed) Len() (int, error) {
	if err := b.valid(); err != nil {
		return 0, err
	}
	return len(b.data), nil
}

// Copy returns an owned copy that stays valid after the transaction ends.
func (b Borrowed) Copy() ([]byte, error) {
	if err := b.valid(); err != nil {
		return nil, err
	}
	return bytes.Clone(b.data), nil
}

// Derive returns a view over p that shares b's lifetime. It is meant for
// slices computed from b's bytes, such as a payload inside an entry.
func (b Borrowed) Derive(p []byte) Borrowed {
	return Borrowed{data: p, life: b.life}
}

// Valid reports whether the view can still be read.
func (b Borrowed) Valid() bool {
	return b.valid() == nil
}
