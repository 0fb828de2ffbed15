package i2c

import "fastarduino/errcode"

// SyncEngine is the bit-banged USI master transaction engine, for MCUs
// (e.g. ATtiny84/85) that lack a hardware TWI peripheral. It presents the
// same Engine surface as AsyncEngine, but PushCommand runs the whole
// command to completion before returning instead of enqueuing it for an
// interrupt to drain.
type SyncEngine struct {
	bus   USIBus
	store *FutureStore
	queue *CommandQueue

	mode   Mode
	fcpuHz uint32
	policy ErrorPolicy
	hook   DebugHook

	// startedAlready records whether the bus was left in a STARTed
	// (not yet STOPped) state by the previous PushCommand, so the next
	// push can decide between a REPEATED START and a fresh START.
	startedAlready bool
	// clearPending gates further pushes fail-fast after a fault, until
	// SignalTransactionComplete acknowledges the transaction is over.
	clearPending bool

	hasLast      bool
	lastFutureID uint8
}

var _ Engine = (*SyncEngine)(nil)

// NewSyncEngine builds a USI engine over bus, backed by store and a
// command queue of the given capacity (enforced the same way the async
// engine enforces queue capacity, even though commands here are drained
// immediately rather than from an interrupt).
func NewSyncEngine(bus USIBus, store *FutureStore, queueCapacity int, mode Mode, fcpuHz uint32, policy ErrorPolicy, hook DebugHook) *SyncEngine {
	return &SyncEngine{
		bus:    bus,
		store:  store,
		queue:  NewCommandQueue(queueCapacity),
		mode:   mode,
		fcpuHz: fcpuHz,
		policy: policy,
		hook:   hook,
	}
}

func (e *SyncEngine) Begin() {
	e.bus.Control().Set(USIBitWireMode1 | USIBitClockSource1 | USIBitClockStrobe)
	e.bus.Status().Set(USIBitStartFlag | USIBitOverflow | USIBitStopFlag | USIBitDataCollis)
	e.bus.Data().Set(0xFF)
	e.bus.SDA().SetOutput(true)
	e.bus.SCL().SetOutput(true)
	e.bus.SDA().Set(true)
	e.bus.SCL().Set(true)
}

func (e *SyncEngine) End() {
	e.bus.Control().Set(0)
	e.bus.SDA().SetOutput(false)
}

// EnsureRoom always succeeds up to the backing queue's fixed capacity;
// commands run synchronously so there is nothing "in flight" beyond the
// one PushCommand currently executing.
func (e *SyncEngine) EnsureRoom(n int) bool {
	return e.queue.FreeSlots() >= n
}

// PushCommand runs cmd's full START/address/data/(REPEATED-START or
// STOP) sequence inline. Returns false if the queue has no room
// (capacity bookkeeping is still enforced for parity with AsyncEngine),
// or if a prior fault in this transaction put the engine in fail-fast
// mode.
func (e *SyncEngine) PushCommand(cmd Command) bool {
	if e.clearPending {
		return false
	}
	if !e.queue.Push(cmd) {
		return false
	}
	cmd, _ = e.queue.Pop()

	newTransaction := !e.hasLast || cmd.FutureID != e.lastFutureID
	if newTransaction && e.startedAlready {
		e.stopBus()
	}

	ok := e.runCommand(cmd, newTransaction)
	e.hasLast = true
	e.lastFutureID = cmd.FutureID

	if !ok {
		e.faultPolicy(cmd.FutureID)
		e.clearPending = true
		return false
	}
	if cmd.ForceStop {
		e.stopBus()
		e.hasLast = false
	}
	return true
}

// SignalTransactionComplete closes out the current transaction: it STOPs
// the bus if one was left started, and clears fail-fast state so the
// next PushCommand begins a fresh transaction.
func (e *SyncEngine) SignalTransactionComplete() {
	if e.startedAlready {
		e.stopBus()
	}
	e.clearPending = false
	e.hasLast = false
}

func (e *SyncEngine) runCommand(cmd Command, newTransaction bool) bool {
	if newTransaction {
		e.execStart()
	} else {
		e.execRepeatStart()
	}
	e.startedAlready = true

	if cmd.Kind == CommandWrite {
		if !e.sendByte(cmd.Target) {
			e.store.SetError(cmd.FutureID, errcode.EPROTO)
			return false
		}
		for e.store.InputRemaining(cmd.FutureID) > 0 {
			b, _ := e.store.ConsumeInputByte(cmd.FutureID)
			last := e.store.InputRemaining(cmd.FutureID) == 0
			if ack := e.sendByte(b); !ack && !last {
				e.store.SetError(cmd.FutureID, errcode.EPROTO)
				return false
			}
		}
	} else {
		if !e.sendByte(cmd.Target | 0x01) {
			e.store.SetError(cmd.FutureID, errcode.EPROTO)
			return false
		}
		for e.store.OutputRemaining(cmd.FutureID) > 0 {
			last := e.store.OutputRemaining(cmd.FutureID) == 1
			b := e.recvByte(!last)
			if ok := e.store.ProduceOutputByte(cmd.FutureID, b); !ok {
				e.store.SetError(cmd.FutureID, errcode.EILSEQ)
			}
		}
	}
	if cmd.FinishFuture {
		e.store.Finish(cmd.FutureID)
	}
	return true
}

func (e *SyncEngine) faultPolicy(faultedID uint8) {
	switch e.policy {
	case ClearAllCommands:
		dropped := e.queue.drain()
		marked := make(map[uint8]bool, len(dropped))
		for _, c := range dropped {
			if c.FutureID == faultedID || marked[c.FutureID] {
				continue
			}
			marked[c.FutureID] = true
			e.store.SetError(c.FutureID, errcode.EORPHAN)
		}
	case ClearTransactionCommands:
		e.queue.ClearTransaction(faultedID)
	}
	e.stopBus()
}

func (e *SyncEngine) delay(nanos uint32) {
	BusyWait(nanos, CyclesPerNano(e.fcpuHz))
}

func (e *SyncEngine) execStart() {
	e.hook.call(DebugStart, 0)
	sda, scl := e.bus.SDA(), e.bus.SCL()
	sda.SetOutput(true)
	sda.Set(true)
	e.delay(e.mode.StartSetupNanos())
	scl.Set(true)
	e.delay(e.mode.StartHoldNanos())
	sda.Set(false) // SDA falls while SCL is high: START condition
	e.delay(e.mode.LowNanos())
	scl.Set(false)
}

func (e *SyncEngine) execRepeatStart() {
	e.hook.call(DebugRepeatStart, 0)
	sda, scl := e.bus.SDA(), e.bus.SCL()
	sda.SetOutput(true)
	sda.Set(true)
	scl.Set(true)
	e.delay(e.mode.StartSetupNanos())
	sda.Set(false)
	e.delay(e.mode.LowNanos())
	scl.Set(false)
}

// sendByte shifts out 8 bits MSB-first then samples the ACK/NAK bit.
// Returns true on ACK.
func (e *SyncEngine) sendByte(data byte) bool {
	sda, scl := e.bus.SDA(), e.bus.SCL()
	sda.SetOutput(true)
	for i := 0; i < 8; i++ {
		sda.Set(data&0x80 != 0)
		data <<= 1
		e.delay(e.mode.LowNanos())
		scl.Set(true)
		e.delay(e.mode.HighNanos())
		scl.Set(false)
	}
	sda.SetOutput(false) // release SDA for the slave to drive ACK/NAK
	e.delay(e.mode.LowNanos())
	scl.Set(true)
	e.delay(e.mode.HighNanos())
	ack := !sda.Get()
	scl.Set(false)
	if ack {
		e.hook.call(DebugSendOK, 0)
	} else {
		e.hook.call(DebugSendError, 0)
	}
	return ack
}

// recvByte shifts in 8 bits MSB-first then drives the ACK/NAK bit: ack
// true means "more bytes wanted" (ACK), false means this is the last
// byte the master will take (NAK).
func (e *SyncEngine) recvByte(ack bool) byte {
	sda, scl := e.bus.SDA(), e.bus.SCL()
	sda.SetOutput(false)
	var b byte
	for i := 0; i < 8; i++ {
		e.delay(e.mode.LowNanos())
		scl.Set(true)
		e.delay(e.mode.HighNanos())
		b <<= 1
		if sda.Get() {
			b |= 1
		}
		scl.Set(false)
	}
	sda.SetOutput(true)
	sda.Set(!ack) // drive low for ACK, leave high for NAK
	e.delay(e.mode.LowNanos())
	scl.Set(true)
	e.delay(e.mode.HighNanos())
	scl.Set(false)
	sda.SetOutput(false)
	if ack {
		e.hook.call(DebugRecvOK, b)
	} else {
		e.hook.call(DebugRecvLast, b)
	}
	return b
}

func (e *SyncEngine) stopBus() {
	e.hook.call(DebugStop, 0)
	sda, scl := e.bus.SDA(), e.bus.SCL()
	sda.SetOutput(true)
	sda.Set(false)
	e.delay(e.mode.LowNanos())
	scl.Set(true)
	e.delay(e.mode.StopSetupNanos())
	sda.Set(true) // SDA rises while SCL is high: STOP condition
	e.delay(e.mode.BusFreeNanos())
	e.startedAlready = false
}
