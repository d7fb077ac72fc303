package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Op names an engine operation that can be made to fail.
type Op string

const (
	OpBeginRead  Op = "begin_read"
	OpBeginWrite Op = "begin_write"
	OpGet        Op = "get"
	OpPut        Op = "put"
	OpDelete     Op = "delete"
	OpCommit     Op = "commit"
	OpSync       Op = "sync"
)

// Fault describes how an operation fails.
type Fault struct {
	// Err is returned instead of calling the engine. Defaults to an error
	// marked ErrStorage.
	Err error
	// Times limits how many calls fail; zero or less fails every call.
	Times int
	// After lets this many calls succeed before failing.
	After int
}

// Faulty wraps an Engine and injects failures per operation. It is meant
// for testing how callers degrade when storage misbehaves.
type Faulty struct {
	Engine

	mu     sync.Mutex
	faults map[Op]*faultState
	calls  map[Op]int
}

type faultState struct {
	Fault
	seen   int
	failed int
}

// NewFaulty wraps e with no faults configured.
func NewFaulty(e Engine) *Faulty {
	return &Faulty{Engine: e, faults: make(map[Op]*faultState), calls: make(map[Op]int)}
}

// Inject sets the fault for op, replacing any previous one.
func (f *Faulty) Inject(op Op, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &faultState{Fault: fault}
}

// Clear removes every configured fault.
func (f *Faulty) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[Op]*faultState)
}

// Calls returns how often op was attempted.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) trip(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	st, ok := f.faults[op]
	if !ok {
		return nil
	}
	st.seen++
	if st.seen <= st.After {
		return nil
	}
	if st.Times > 0 && st.failed >= st.Times {
		return nil
	}
	st.failed++
	if st.Err != nil {
		return st.Err
	}
	return errors.Mark(errors.Newf("injected %s fault", op), ErrStorage)
}

func (f *Faulty) BeginRead(ctx context.Context) (ReadTxn, error) {
	if err := f.trip(OpBeginRead); err != nil {
		return nil, err
	}
	tx, err := f.Engine.BeginRead(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTxn{WriteTxn: readOnly{tx}, f: f}, nil
}

func (f *Faulty) BeginWrite(ctx context.Context) (WriteTxn, error) {
	if err := f.trip(OpBeginWrite); err != nil {
		return nil, err
	}
	tx, err := f.Engine.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTxn{WriteTxn: tx, f: f}, nil
}

func (f *Faulty) Sync() error {
	if err := f.trip(OpSync); err != nil {
		return err
	}
	return f.Engine.Sync()
}

// readOnly lifts a ReadTxn to the WriteTxn shape so faultyTxn can wrap both.
type readOnly struct {
	ReadTxn
}

func (readOnly) Put(_, _ []byte) error { return errors.AssertionFailedf("put on a read transaction") }
func (readOnly) Delete([]byte) error   { return errors.AssertionFailedf("delete on a read transaction") }
func (readOnly) Clear() error          { return errors.AssertionFailedf("clear on a read transaction") }
func (readOnly) Commit() error         { return errors.AssertionFailedf("commit on a read transaction") }

type faultyTxn struct {
	WriteTxn
	f *Faulty
}

func (t *faultyTxn) Get(key []byte) (Borrowed, bool, error) {
	if err := t.f.trip(OpGet); err != nil {
		return Borrowed{}, false, err
	}
	return t.WriteTxn.Get(key)
}

func (t *faultyTxn) Put(key, value []byte) error {
	if err := t.f.trip(OpPut); err != nil {
		return err
	}
	return t.WriteTxn.Put(key, value)
}

func (t *faultyTxn) Delete(key []byte) error {
	if err := t.f.trip(OpDelete); err != nil {
		return err
	}
	return t.WriteTxn.Delete(key)
}

func (t *faultyTxn) Commit() error {
	if err := t.f.trip(OpCommit); err != nil {
		t.WriteTxn.Abort()
		return err
	}
	return t.WriteTxn.Commit()
}
