package i2c

import (
	"fastarduino/errcode"
	"fastarduino/i2c/internal/critical"
)

// asyncState is the TWI phase state machine described in spec.md §4.4.1.
type asyncState uint8

const (
	asyncIdle asyncState = iota
	asyncStart
	asyncAddrW
	asyncAddrR
	asyncSend
	asyncRecv
	asyncRecvLast
	asyncStop
)

// AsyncEngine is the interrupt-driven TWI master transaction engine.
// HandleInterrupt is called from the board's TWI completion interrupt; it
// must never block, allocate, or suspend. Every other method runs on
// ordinary foreground goroutines and takes the same critical section
// HandleInterrupt implicitly owns while it runs, so the two never observe
// torn state.
type AsyncEngine struct {
	regs  TWIRegisters
	store *FutureStore
	queue *CommandQueue

	mode   Mode
	fcpuHz uint32
	policy ErrorPolicy
	hook   DebugHook

	sec critical.Section

	state          asyncState
	command        Command
	expectedStatus byte
	inProgress     bool
}

var _ Engine = (*AsyncEngine)(nil)

// NewAsyncEngine builds a TWI engine over regs, backed by store and
// queue. fcpuHz is the CPU clock used to derive the bitrate prescaler and
// the post-STOP bus-free delay.
func NewAsyncEngine(regs TWIRegisters, store *FutureStore, queue *CommandQueue, mode Mode, fcpuHz uint32, policy ErrorPolicy, hook DebugHook) *AsyncEngine {
	return &AsyncEngine{
		regs:   regs,
		store:  store,
		queue:  queue,
		mode:   mode,
		fcpuHz: fcpuHz,
		policy: policy,
		hook:   hook,
	}
}

// Begin configures SDA/SCL pull-ups, the bitrate prescaler for the
// configured mode, and enables the TWI peripheral.
func (e *AsyncEngine) Begin() {
	e.sec.Do(func() {
		e.regs.EnablePullups()
		if twbr, ok := Prescaler(e.mode, e.fcpuHz); ok {
			e.regs.Bitrate().Set(twbr)
		}
		e.regs.Status().Set(0)
		e.regs.Control().Set(TWIBitEnable)
	})
}

// End disables the TWI peripheral and releases SDA/SCL pull-ups.
func (e *AsyncEngine) End() {
	e.sec.Do(func() {
		e.regs.Control().Set(0)
		e.regs.DisablePullups()
	})
}

// PushCommand enqueues one command. Returns false (caller maps to
// errcode.EAGAIN) if the queue is full.
func (e *AsyncEngine) PushCommand(cmd Command) bool {
	return e.queue.Push(cmd)
}

// EnsureRoom reports whether n more commands can be pushed right now.
func (e *AsyncEngine) EnsureRoom(n int) bool {
	return e.queue.FreeSlots() >= n
}

// SignalTransactionComplete starts the engine if it is currently idle.
// Until this is called, commands already pushed are not touched: the
// engine never begins a new transaction merely because the queue
// happened to drain between two pushes from the same caller.
func (e *AsyncEngine) SignalTransactionComplete() {
	e.sec.Do(func() {
		if e.command.none() {
			e.dequeueAndStart(true)
		}
	})
}

// dequeueAndStart pops the next command and begins processing it. Caller
// must hold e.sec (or be the interrupt handler, which owns it
// implicitly).
func (e *AsyncEngine) dequeueAndStart(first bool) {
	cmd, ok := e.queue.Pop()
	if !ok {
		e.command = Command{}
		e.state = asyncIdle
		e.inProgress = false
		return
	}
	e.command = cmd
	e.state = asyncStart
	if first {
		e.execStart()
	} else {
		e.execRepeatStart()
	}
}

func (e *AsyncEngine) execStart() {
	e.hook.call(DebugStart, 0)
	e.expectedStatus = twiStatusStart
	e.inProgress = true
	e.regs.Control().Set(TWIBitEnable | TWIBitInterruptEnable | TWIBitInterruptFlag | TWIBitStart)
}

func (e *AsyncEngine) execRepeatStart() {
	e.hook.call(DebugRepeatStart, 0)
	e.expectedStatus = twiStatusRepeatStart
	e.regs.Control().Set(TWIBitEnable | TWIBitInterruptEnable | TWIBitInterruptFlag | TWIBitStart)
}

func (e *AsyncEngine) sendByte(data byte) {
	e.regs.Data().Set(data)
	e.regs.Control().Set(TWIBitEnable | TWIBitInterruptEnable | TWIBitInterruptFlag)
}

func (e *AsyncEngine) execSendSLAW() {
	e.hook.call(DebugSLAW, e.command.Target)
	e.expectedStatus = twiStatusSLAWAck
	e.sendByte(e.command.Target)
}

func (e *AsyncEngine) execSendSLAR() {
	e.hook.call(DebugSLAR, e.command.Target)
	e.expectedStatus = twiStatusSLARAck
	e.sendByte(e.command.Target | 0x01)
}

func (e *AsyncEngine) execSendData() {
	data, ok := e.store.ConsumeInputByte(e.command.FutureID)
	e.hook.call(DebugSend, data)
	if !ok {
		// Two concurrent producers for the same future, or a driver bug.
		e.store.SetError(e.command.FutureID, errcode.EILSEQ)
		e.hook.call(DebugSendError, data)
	} else {
		e.hook.call(DebugSendOK, data)
	}
	e.expectedStatus = twiStatusDataTxAck
	e.sendByte(data)
}

func (e *AsyncEngine) execReceiveData() {
	if e.store.OutputRemaining(e.command.FutureID) <= 1 {
		e.hook.call(DebugRecvLast, 0)
		e.expectedStatus = twiStatusDataRxNack
		e.regs.Control().Set(TWIBitEnable | TWIBitInterruptEnable | TWIBitInterruptFlag)
	} else {
		e.hook.call(DebugRecv, 0)
		e.expectedStatus = twiStatusDataRxAck
		e.regs.Control().Set(TWIBitEnable | TWIBitInterruptEnable | TWIBitInterruptFlag | TWIBitAck)
	}
}

// execStop issues the STOP condition and stalls for the bus-free time
// the configured mode requires before the next START is permitted.
func (e *AsyncEngine) execStop(fault bool) {
	e.hook.call(DebugStop, 0)
	e.regs.Control().Set(TWIBitEnable | TWIBitInterruptFlag | TWIBitStop)
	if !fault {
		e.expectedStatus = 0
	}
	e.command = Command{}
	e.state = asyncIdle
	e.inProgress = false
	BusyWait(e.mode.PostStopDelayNanos(), CyclesPerNano(e.fcpuHz))
}

// isEndTransaction reports whether, after the command currently being
// retired, no further queued command shares its future id.
func (e *AsyncEngine) isEndTransaction() bool {
	next, ok := e.queue.Peek()
	return !(ok && next.FutureID == e.command.FutureID)
}

func (e *AsyncEngine) checkNoError(status byte) bool {
	if status == e.expectedStatus {
		return true
	}
	// Tolerate a NAK on the last byte of a write: some slaves NAK it
	// intentionally, and it carries the same meaning as ACK there.
	if e.expectedStatus == twiStatusDataTxAck && status == twiStatusDataTxNack &&
		e.store.InputRemaining(e.command.FutureID) == 0 {
		return true
	}
	if e.store.Status(e.command.FutureID) != StatusError {
		e.store.SetError(e.command.FutureID, errcode.EPROTO)
	}
	return false
}

// handleFault applies the configured error policy, STOPs the bus and
// resumes with whatever commands the policy preserved.
func (e *AsyncEngine) handleFault() Callback {
	switch e.policy {
	case ClearAllCommands:
		dropped := e.queue.drain()
		e.markOrphans(dropped)
	case ClearTransactionCommands:
		e.queue.ClearTransaction(e.command.FutureID)
	}
	e.execStop(true)
	e.dequeueAndStart(true)
	return CallbackError
}

// markOrphans marks every future referenced by dropped (other than the
// one that already faulted) ERROR/EORPHAN instead of leaving it
// NOT_READY forever with no command left to ever run it.
func (e *AsyncEngine) markOrphans(dropped []Command) {
	faulted := e.command.FutureID
	marked := make(map[uint8]bool, len(dropped))
	for _, c := range dropped {
		if c.FutureID == faulted || marked[c.FutureID] {
			continue
		}
		marked[c.FutureID] = true
		e.store.SetError(c.FutureID, errcode.EORPHAN)
	}
}

// nextState computes the state following the current one, per spec.md
// §4.4.1's transition table.
func (e *AsyncEngine) nextState() asyncState {
	id := e.command.FutureID
	switch e.state {
	case asyncStart:
		if e.command.Kind == CommandWrite {
			return asyncAddrW
		}
		return asyncAddrR
	case asyncAddrW:
		if e.store.InputRemaining(id) > 0 {
			return asyncSend
		}
		return asyncStop
	case asyncSend:
		if e.store.InputRemaining(id) > 0 {
			return asyncSend
		}
		return asyncStop
	case asyncAddrR, asyncRecv:
		if e.store.OutputRemaining(id) > 1 {
			return asyncRecv
		}
		return asyncRecvLast
	case asyncRecvLast:
		return asyncStop
	default:
		return asyncIdle
	}
}

// HandleInterrupt is the TWI "operation complete" interrupt handler. It
// reads the status register, advances the state machine by exactly one
// step, and returns the callback the driver layer should deliver, if any.
// It must not block or allocate.
func (e *AsyncEngine) HandleInterrupt() Callback {
	status := e.regs.Status().Get() & twiStatusMask
	if !e.checkNoError(status) {
		return e.handleFault()
	}

	if e.state == asyncRecv || e.state == asyncRecvLast {
		data := e.regs.Data().Get()
		if ok := e.store.ProduceOutputByte(e.command.FutureID, data); !ok {
			e.store.SetError(e.command.FutureID, errcode.EILSEQ)
			e.hook.call(DebugRecvError, data)
		} else {
			e.hook.call(DebugRecvOK, data)
		}
	}

	result := CallbackNone
	e.state = e.nextState()
	switch e.state {
	case asyncAddrR:
		e.execSendSLAR()
	case asyncRecv, asyncRecvLast:
		e.execReceiveData()
	case asyncAddrW:
		e.execSendSLAW()
	case asyncSend:
		e.execSendData()
	case asyncStop:
		if e.command.FinishFuture {
			e.store.Finish(e.command.FutureID)
		}
		if e.isEndTransaction() {
			result = CallbackEndTransaction
		} else {
			result = CallbackEndCommand
		}
		switch {
		case e.queue.Empty():
			e.execStop(false)
		case e.command.ForceStop:
			e.execStop(false)
			e.dequeueAndStart(true)
		default:
			e.dequeueAndStart(false)
		}
	}
	return result
}
