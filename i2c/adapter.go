package i2c

import (
	"context"
	"fmt"
	"time"

	"fastarduino/errcode"
)

// BlockingAdapter implements tinygo.org/x/drivers.I2C (Tx(addr, w, r) error)
// over an Engine, so device drivers written against that interface run
// unchanged against either the async TWI engine or the sync USI engine.
// Every Tx call is a complete transaction: it stages one or two commands,
// signals the transaction complete, and blocks (via Future.Await) until
// the engine finishes or the adapter's timeout elapses.
type BlockingAdapter struct {
	engine  Engine
	store   *FutureStore
	timeout time.Duration
}

// NewBlockingAdapter wraps engine/store with a default 25ms per-Tx
// timeout, matching the teacher shim's default.
func NewBlockingAdapter(engine Engine, store *FutureStore) *BlockingAdapter {
	return &BlockingAdapter{engine: engine, store: store, timeout: 25 * time.Millisecond}
}

// WithTimeout returns a copy of the adapter using the given per-Tx
// timeout instead of the default.
func (a BlockingAdapter) WithTimeout(d time.Duration) BlockingAdapter {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Tx performs a write of w (if non-empty), a read into r (if non-empty),
// or both as a single REPEATED-START transaction, and blocks until it
// completes or the adapter's timeout elapses.
func (a BlockingAdapter) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}

	future, ok := NewRawFuture(a.store, w, len(r))
	if !ok {
		return fmt.Errorf("i2c: %w", errcode.EAGAIN)
	}
	defer future.Release()

	target := byte(addr << 1)
	id := future.ID()

	if len(w) > 0 {
		if !a.engine.PushCommand(Command{
			Kind:         CommandWrite,
			Target:       target,
			FutureID:     id,
			ForceStop:    len(r) == 0,
			FinishFuture: len(r) == 0,
		}) {
			return fmt.Errorf("i2c: %w", errcode.EAGAIN)
		}
	}
	if len(r) > 0 {
		if !a.engine.PushCommand(Command{
			Kind:         CommandRead,
			Target:       target,
			FutureID:     id,
			ForceStop:    true,
			FinishFuture: true,
		}) {
			return fmt.Errorf("i2c: %w", errcode.EAGAIN)
		}
	}
	a.engine.SignalTransactionComplete()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	status, err := future.Await(ctx)
	if err != nil {
		return fmt.Errorf("i2c: %w", errcode.ETIME)
	}
	if status == StatusError {
		return fmt.Errorf("i2c: %w", future.Error())
	}
	if len(r) > 0 && !future.Get(r) {
		return fmt.Errorf("i2c: %w", errcode.EILSEQ)
	}
	return nil
}
