package i2c

import (
	"errors"
	"testing"

	"fastarduino/errcode"
)

// fakeEngine is a minimal Engine double for exercising BlockingAdapter
// without a real bus: it runs each pushed command to completion inline,
// consuming/producing store bytes directly rather than bit-banging or
// driving TWI registers.
type fakeEngine struct {
	store     *FutureStore
	full      bool // next PushCommand fails (simulates EAGAIN)
	failNacks bool // every command faults the future with EPROTO
}

func (e *fakeEngine) Begin() {}
func (e *fakeEngine) End()   {}

func (e *fakeEngine) EnsureRoom(n int) bool { return !e.full }

func (e *fakeEngine) PushCommand(cmd Command) bool {
	if e.full {
		return false
	}
	if e.failNacks {
		e.store.SetError(cmd.FutureID, errcode.EPROTO)
		return true
	}
	if cmd.Kind == CommandWrite {
		for e.store.InputRemaining(cmd.FutureID) > 0 {
			e.store.ConsumeInputByte(cmd.FutureID)
		}
	} else {
		for e.store.OutputRemaining(cmd.FutureID) > 0 {
			e.store.ProduceOutputByte(cmd.FutureID, 0xAB)
		}
	}
	if cmd.FinishFuture {
		e.store.Finish(cmd.FutureID)
	}
	return true
}

func (e *fakeEngine) SignalTransactionComplete() {}

func TestBlockingAdapter_WriteOnly(t *testing.T) {
	store := NewFutureStore(2)
	eng := &fakeEngine{store: store}
	a := NewBlockingAdapter(eng, store)

	if err := a.Tx(0x68, []byte{0x00, 0x3C}, nil); err != nil {
		t.Fatalf("Tx = %v, want nil", err)
	}
}

func TestBlockingAdapter_ReadOnly(t *testing.T) {
	store := NewFutureStore(2)
	eng := &fakeEngine{store: store}
	a := NewBlockingAdapter(eng, store)

	dst := make([]byte, 6)
	if err := a.Tx(0x1E, nil, dst); err != nil {
		t.Fatalf("Tx = %v, want nil", err)
	}
	for i, b := range dst {
		if b != 0xAB {
			t.Fatalf("dst[%d] = %#x, want 0xab", i, b)
		}
	}
}

func TestBlockingAdapter_WriteThenRead(t *testing.T) {
	store := NewFutureStore(2)
	eng := &fakeEngine{store: store}
	a := NewBlockingAdapter(eng, store)

	dst := make([]byte, 1)
	if err := a.Tx(0x68, []byte{0x00}, dst); err != nil {
		t.Fatalf("Tx = %v, want nil", err)
	}
}

func TestBlockingAdapter_FaultSurfacesAsError(t *testing.T) {
	store := NewFutureStore(2)
	eng := &fakeEngine{store: store, failNacks: true}
	a := NewBlockingAdapter(eng, store)

	err := a.Tx(0x68, []byte{0x00}, nil)
	if err == nil {
		t.Fatal("expected error from a faulted transaction")
	}
	if !errors.Is(err, errcode.EPROTO) {
		t.Fatalf("err = %v, want wrapped errcode.EPROTO", err)
	}
}

func TestBlockingAdapter_QueueFullSurfacesAsEAGAIN(t *testing.T) {
	store := NewFutureStore(2)
	eng := &fakeEngine{store: store, full: true}
	a := NewBlockingAdapter(eng, store)

	err := a.Tx(0x68, []byte{0x00}, nil)
	if err == nil || !errors.Is(err, errcode.EAGAIN) {
		t.Fatalf("err = %v, want wrapped errcode.EAGAIN", err)
	}
}
