package i2c

import (
	"context"
	"testing"
	"time"
)

// fakeGPIO is a software pin double. While the master drives it, level
// holds whatever the last Set left it at; once released (SetOutput(false))
// it reads low, standing in for an always-ACK slave.
type fakeGPIO struct {
	driving bool
	level   bool
}

func (p *fakeGPIO) Get() bool {
	if !p.driving {
		return false
	}
	return p.level
}
func (p *fakeGPIO) Set(v bool)         { p.level = v }
func (p *fakeGPIO) SetOutput(out bool) { p.driving = out }

type fakeUSI struct {
	data, status, control fakeReg
	scl, sda               fakeGPIO
}

func (u *fakeUSI) Data() RegisterAccessor    { return &u.data }
func (u *fakeUSI) Status() RegisterAccessor  { return &u.status }
func (u *fakeUSI) Control() RegisterAccessor { return &u.control }
func (u *fakeUSI) SCL() GPIOPin              { return &u.scl }
func (u *fakeUSI) SDA() GPIOPin              { return &u.sda }

func newTestSyncEngine(t *testing.T, policy ErrorPolicy, queueCap int) (*SyncEngine, *fakeUSI, *FutureStore) {
	t.Helper()
	old := BusyWait
	BusyWait = noBusyWait
	t.Cleanup(func() { BusyWait = old })

	bus := &fakeUSI{}
	store := NewFutureStore(4)
	e := NewSyncEngine(bus, store, queueCap, ModeStandard, 8000000, policy, nil)
	e.Begin()
	// An always-ACK slave: every time the master releases SDA to sample
	// it (for an ACK/NAK bit or a data bit), the fake pulls the line low,
	// so every address and data byte is ACKed and every received byte
	// reads 0x00. This is sufficient for exercising the completion and
	// bookkeeping paths without a full bus-contention model.
	return e, bus, store
}

func TestSyncEngine_VoidWriteFinishesWithoutExtraStop(t *testing.T) {
	e, _, store := newTestSyncEngine(t, ClearAllCommands, 4)
	type void struct{}
	in := struct{ Reg byte }{0x00}
	f, ok := NewFuture[void, struct{ Reg byte }](store, &in)
	if !ok {
		t.Fatal("register failed")
	}
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID(), ForceStop: true, FinishFuture: true}) {
		t.Fatal("push failed")
	}
	if e.startedAlready {
		t.Fatal("ForceStop command must leave the bus stopped, not started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("Await = %v, %v; want Ready, nil", status, err)
	}
}

// TestSyncEngine_SignalTransactionCompleteIssuesStop covers the other
// half of the DS1307-style void-write scenario: a command pushed without
// ForceStop leaves the bus started, and it is SignalTransactionComplete
// — not a ForceStop command — that must issue the STOP.
func TestSyncEngine_SignalTransactionCompleteIssuesStop(t *testing.T) {
	e, _, store := newTestSyncEngine(t, ClearAllCommands, 4)
	type void struct{}
	in := struct{ Reg byte }{0x00}
	f, ok := NewFuture[void, struct{ Reg byte }](store, &in)
	if !ok {
		t.Fatal("register failed")
	}
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID(), FinishFuture: true}) {
		t.Fatal("push failed")
	}
	if !e.startedAlready {
		t.Fatal("non-ForceStop command must leave the bus started")
	}

	e.SignalTransactionComplete()
	if e.startedAlready {
		t.Fatal("SignalTransactionComplete must issue STOP and clear startedAlready")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("Await = %v, %v; want Ready, nil", status, err)
	}
}

func TestSyncEngine_RepeatedStartAcrossCommandsOfSameFuture(t *testing.T) {
	e, _, store := newTestSyncEngine(t, ClearAllCommands, 4)
	f, ok := NewRawFuture(store, []byte{0x00}, 1)
	if !ok {
		t.Fatal("register failed")
	}
	id := f.ID()

	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: id}) {
		t.Fatal("push write failed")
	}
	if !e.startedAlready {
		t.Fatal("expected bus left started after a non-ForceStop command")
	}
	if !e.PushCommand(Command{Kind: CommandRead, Target: 0xD0, FutureID: id, ForceStop: true, FinishFuture: true}) {
		t.Fatal("push read failed")
	}
	if e.startedAlready {
		t.Fatal("ForceStop on the final command must leave the bus stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := f.Await(ctx)
	if err != nil || status != StatusReady {
		t.Fatalf("Await = %v, %v; want Ready, nil", status, err)
	}
}

func TestSyncEngine_DifferentFutureForcesStopBeforeNewStart(t *testing.T) {
	e, _, store := newTestSyncEngine(t, ClearAllCommands, 4)
	f1, _ := NewFuture[struct{}, struct{}](store, nil)
	f2, _ := NewFuture[struct{}, struct{}](store, nil)

	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f1.ID()}) {
		t.Fatal("push f1 failed")
	}
	if !e.startedAlready {
		t.Fatal("expected bus started after f1's command")
	}
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD2, FutureID: f2.ID(), ForceStop: true, FinishFuture: true}) {
		t.Fatal("push f2 failed")
	}
	// Switching futures mid-stream must STOP the f1 transaction first,
	// then fresh-START for f2, rather than silently splicing commands
	// from two different transactions together.
	if e.startedAlready {
		t.Fatal("f2's ForceStop command must leave the bus stopped")
	}
}

func TestSyncEngine_QueueCapacityExhaustion(t *testing.T) {
	e, _, store := newTestSyncEngine(t, ClearAllCommands, 1)
	f, _ := NewFuture[struct{}, struct{}](store, nil)
	if !e.EnsureRoom(1) {
		t.Fatal("expected room for 1 command")
	}
	// PushCommand drains inline, so the queue is never observed full by
	// a second caller; EnsureRoom/PushCommand still honour the declared
	// capacity for the duration of a single call.
	if !e.PushCommand(Command{Kind: CommandWrite, Target: 0xD0, FutureID: f.ID(), ForceStop: true, FinishFuture: true}) {
		t.Fatal("push should succeed within capacity")
	}
}
