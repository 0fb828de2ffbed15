package i2c

import (
	"context"
	"testing"
	"time"

	"fastarduino/errcode"
)

// fakeReg is an in-memory byte register.
type fakeReg struct{ v byte }

func (r *fakeReg) Get() byte  { return r.v }
func (r *fakeReg) Set(v byte) { r.v = v }

// fakeTWI is a software TWI peripheral double: the test drives it by
// setting status/data before each HandleInterrupt call, mirroring what
// real hardware would have latched by the time the interrupt fires.
type fakeTWI struct {
	bitrate, status, control, data fakeReg
	pullups                        bool
}

func (f *fakeTWI) Bitrate() RegisterAccessor { return &f.bitrate }
func (f *fakeTWI) Status() RegisterAccessor  { return &f.status }
func (f *fakeTWI) Control() RegisterAccessor { return &f.control }
func (f *fakeTWI) Data() RegisterAccessor    { return &f.data }
func (f *fakeTWI) EnablePullups()            { f.pullups = true }
func (f *fakeTWI) DisablePullups()           { f.pullups = false }

func noBusyWait(uint32, func(uint32) uint32) {}

func newTestAsyncEngine(t *testing.T, policy ErrorPolicy, queueCap int) (*AsyncEngine, *fakeTWI, *FutureStore) {
	t.Helper()
	old := BusyWait
	BusyWait = noBusyWait
	t.Cleanup(func() { BusyWait = old })

	regs := &fakeTWI{}
	store := NewFutureStore(4)
	queue := NewCommandQueue(queueCap)
	e := NewAsyncEngine(regs, store, queue, ModeStandard, 16000000, policy, nil)
	e.Begin()
	return e, regs, store
}

// step sets the status register to status (and, for a receive phase,
// data to rxByte) and fires one HandleInterrupt, returning its callback.
func step(e *AsyncEngine, regs *fakeTWI, status byte, rxByte byte) Callback {
	regs.data.Set(rxByte)
	regs.status.Set(status)
	return e.HandleInterrupt()
}

func TestAsyncEngine_VoidWrite(t *testing.T) {
	e, regs, store := newTestAsyncEngine(t, ClearAllCommands, 4)
	type void struct{}
	in := struct{ Reg, Val byte }{0x00, 0x3C}
	f, ok := NewFuture[void, struct{ Reg, Val byte }](store, &in)
	if !ok {
		t.Fatal("register failed")
	}
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID(), ForceStop: true, FinishFuture: true}) {
		t.Fatal("push failed")
	}
	e.SignalTransactionComplete()

	if got := step(e, regs, twiStatusStart, 0); got != CallbackNone {
		t.Fatalf("after START: callback = %v", got)
	}
	if got := step(e, regs, twiStatusSLAWAck, 0); got != CallbackNone {
		t.Fatalf("after SLA+W: callback = %v", got)
	}
	if got := step(e, regs, twiStatusDataTxAck, 0); got != CallbackNone { // register byte
		t.Fatalf("after data 1: callback = %v", got)
	}
	got := step(e, regs, twiStatusDataTxAck, 0) // value byte, last -> STOP
	if got != CallbackEndTransaction {
		t.Fatalf("after data 2 (last): callback = %v, want CallbackEndTransaction", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("Await = %v, %v; want Ready, nil", status, err)
	}
}

func TestAsyncEngine_RepeatedStartRead(t *testing.T) {
	e, regs, store := newTestAsyncEngine(t, ClearAllCommands, 4)
	f, ok := NewRawFuture(store, []byte{0x00}, 1) // DS1307-style: write pointer, read 1 byte
	if !ok {
		t.Fatal("register failed")
	}
	id := f.ID()
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: id}) {
		t.Fatal("push write failed")
	}
	if !e.PushCommand(Command{Kind: CommandRead, Target: 0xD0, FutureID: id, ForceStop: true, FinishFuture: true}) {
		t.Fatal("push read failed")
	}
	e.SignalTransactionComplete()

	step(e, regs, twiStatusStart, 0)
	step(e, regs, twiStatusSLAWAck, 0)
	if got := step(e, regs, twiStatusDataTxAck, 0); got != CallbackEndCommand {
		t.Fatalf("after write byte: callback = %v, want CallbackEndCommand", got)
	}
	step(e, regs, twiStatusRepeatStart, 0)
	step(e, regs, twiStatusSLARAck, 0)
	got := step(e, regs, twiStatusDataRxNack, 0x2A) // last (only) byte, NAK'd by master
	if got != CallbackEndTransaction {
		t.Fatalf("after read byte: callback = %v, want CallbackEndTransaction", got)
	}

	var out byte
	var dst [1]byte
	if !f.Get(dst[:]) {
		t.Fatal("Get: expected success")
	}
	out = dst[0]
	if out != 0x2A {
		t.Fatalf("got %#x, want 0x2a", out)
	}
}

func TestAsyncEngine_AddressNackClearsAllCommands(t *testing.T) {
	e, regs, store := newTestAsyncEngine(t, ClearAllCommands, 4)
	f1, _ := NewFuture[struct{}, struct{}](store, nil)
	f2, _ := NewFuture[struct{}, struct{}](store, nil)

	e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f1.ID(), ForceStop: true, FinishFuture: true})
	e.PushCommand(Command{Kind: CommandWrite, Target: 0xD2, FutureID: f2.ID(), ForceStop: true, FinishFuture: true})
	e.SignalTransactionComplete()

	step(e, regs, twiStatusStart, 0)
	got := step(e, regs, twiStatusSLAWNack, 0) // address NAK: no such device
	if got != CallbackError {
		t.Fatalf("callback = %v, want CallbackError", got)
	}
	if f1.Status() != StatusError || f1.Error() != errcode.EPROTO {
		t.Fatalf("f1: status=%v err=%v, want Error/EPROTO", f1.Status(), f1.Error())
	}
	if f2.Status() != StatusError || f2.Error() != errcode.EORPHAN {
		t.Fatalf("f2: status=%v err=%v, want Error/EORPHAN (dropped by CLEAR_ALL_COMMANDS)", f2.Status(), f2.Error())
	}
}

func TestAsyncEngine_AddressNackClearsOnlyFaultedTransaction(t *testing.T) {
	e, regs, store := newTestAsyncEngine(t, ClearTransactionCommands, 4)
	f1, _ := NewFuture[struct{}, struct{}](store, nil)
	f2, _ := NewFuture[struct{}, struct{}](store, nil)

	e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f1.ID(), ForceStop: true, FinishFuture: true})
	e.PushCommand(Command{Kind: CommandWrite, Target: 0xD2, FutureID: f2.ID(), ForceStop: true, FinishFuture: true})
	e.SignalTransactionComplete()

	step(e, regs, twiStatusStart, 0)
	step(e, regs, twiStatusSLAWNack, 0)
	if f2.Status() == StatusError {
		t.Fatal("f2 must survive a CLEAR_TRANSACTION_COMMANDS fault on f1's transaction")
	}

	// f2's transaction now runs to completion on its own.
	step(e, regs, twiStatusStart, 0)
	step(e, regs, twiStatusSLAWAck, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f2.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("f2 Await = %v, %v; want Ready, nil", status, err)
	}
}

func TestAsyncEngine_QueueCapacityExhaustion(t *testing.T) {
	e, regs, store := newTestAsyncEngine(t, ClearAllCommands, 2)
	f, _ := NewFuture[struct{}, struct{}](store, nil)

	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID()}) {
		t.Fatal("push 1 should succeed")
	}
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID()}) {
		t.Fatal("push 2 should succeed")
	}
	if e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID()}) {
		t.Fatal("push 3 should fail: queue at capacity")
	}
	if !e.EnsureRoom(0) || e.EnsureRoom(1) {
		t.Fatalf("EnsureRoom mismatched queue state")
	}
	_ = regs
}
