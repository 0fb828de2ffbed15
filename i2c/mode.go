package i2c

// Mode selects the I2C bus speed. Prescalers, bus-free time and bit-bang
// timing are all derived from Mode and the CPU clock rather than copied
// from a datasheet table, so a port to a different F_CPU only needs the
// clock value, not new constants.
type Mode uint8

const (
	ModeStandard Mode = iota // 100 kHz SCL
	ModeFast                 // 400 kHz SCL
)

func (m Mode) hz() uint32 {
	if m == ModeFast {
		return 400_000
	}
	return 100_000
}

// Prescaler computes the TWI bitrate register value for the given CPU
// clock and mode, following the standard AVR TWI formula:
//
//	SCL = F_CPU / (16 + 2*TWBR*prescaler)
//
// with prescaler fixed at 1 (the common case for every MCU this core
// targets). Returns ok=false if the computed divisor does not fit an
// 8-bit register or would be negative (F_CPU too low for the mode).
func Prescaler(mode Mode, fcpuHz uint32) (twbr uint8, ok bool) {
	if fcpuHz < 16*mode.hz() {
		return 0, false
	}
	v := (fcpuHz/mode.hz() - 16) / 2
	if v > 255 {
		return 0, false
	}
	return uint8(v), true
}

// BusFreeNanos returns the minimum bus-free time (the quiet period a
// master must observe after a STOP before issuing the next START) for
// the given mode, per the I2C specification's t_BUF figure.
func (m Mode) BusFreeNanos() uint32 {
	if m == ModeFast {
		return 1300
	}
	return 4700
}

// StopSetupNanos returns t_SU;STO, the setup time before a STOP
// condition, per the I2C specification.
func (m Mode) StopSetupNanos() uint32 {
	if m == ModeFast {
		return 600
	}
	return 4000
}

// PostStopDelayNanos is the quiet time the engine must observe after a
// STOP before permitting the next START: t_SU;STO + t_BUF.
func (m Mode) PostStopDelayNanos() uint32 {
	return m.StopSetupNanos() + m.BusFreeNanos()
}

// USI bit-bang timing, per the I2C specification (nanoseconds):
func (m Mode) StartHoldNanos() uint32 {
	if m == ModeFast {
		return 600
	}
	return 4000
}
func (m Mode) StartSetupNanos() uint32 {
	if m == ModeFast {
		return 600
	}
	return 4700
}
func (m Mode) LowNanos() uint32 {
	if m == ModeFast {
		return 1300
	}
	return 4700
}
func (m Mode) HighNanos() uint32 {
	if m == ModeFast {
		return 600
	}
	return 4000
}

// BusyWait is the bit-bang delay primitive. It is a variable, not a
// constant, so a build can swap in a calibrated per-MCU cycle-count loop
// (e.g. assembly NOPs sized from F_CPU) without touching SyncEngine. The
// default spins a pure-Go loop sized by cyclesPerNano, which is good
// enough for host-side tests and is expected to be replaced by board
// packages on real hardware.
var BusyWait = func(nanos uint32, cyclesPerNano func(uint32) uint32) {
	n := cyclesPerNano(nanos)
	for i := uint32(0); i < n; i++ {
		// Deliberately empty: the loop itself is the delay.
	}
}

// CyclesPerNano returns a cycles-per-nanosecond estimator for a given CPU
// clock, used by BusyWait implementations that want a cycle count instead
// of a raw nanosecond figure.
func CyclesPerNano(fcpuHz uint32) func(uint32) uint32 {
	return func(nanos uint32) uint32 {
		// nanos * fcpuHz / 1e9, kept in integer arithmetic and floored at 1
		// so a non-zero requested delay never collapses to a no-op loop.
		cycles := (uint64(nanos) * uint64(fcpuHz)) / 1_000_000_000
		if cycles == 0 {
			cycles = 1
		}
		return uint32(cycles)
	}
}
