//go:build avr

package avr

import (
	"device/avr"
	"runtime/volatile"

	"fastarduino/i2c"
	"machine"
)

// reg8 adapts a runtime/volatile.Register8 to i2c.RegisterAccessor.
type reg8 struct {
	r *volatile.Register8
}

func (r reg8) Get() byte  { return r.r.Get() }
func (r reg8) Set(v byte) { r.r.Set(v) }

// twiRegs implements i2c.TWIRegisters over the ATmega TWI peripheral's
// TWBR/TWSR/TWCR/TWDR registers, for boards built with a TWI-capable AVR
// (ATmega328P/2560/644/32U4).
type twiRegs struct {
	sda, scl machine.Pin
}

// NewTWI builds the register surface AsyncEngine needs for an ATmega TWI
// peripheral. sda/scl are configured as inputs with internal pull-ups on
// Begin and released (high-Z) on End, matching the hardware's expectation
// that pull-ups are the bus idle state.
func NewTWI(sda, scl machine.Pin) i2c.TWIRegisters {
	return &twiRegs{sda: sda, scl: scl}
}

func (t *twiRegs) Bitrate() i2c.RegisterAccessor { return reg8{&avr.TWBR} }
func (t *twiRegs) Status() i2c.RegisterAccessor  { return reg8{&avr.TWSR} }
func (t *twiRegs) Control() i2c.RegisterAccessor { return reg8{&avr.TWCR} }
func (t *twiRegs) Data() i2c.RegisterAccessor    { return reg8{&avr.TWDR} }

func (t *twiRegs) EnablePullups() {
	t.sda.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	t.scl.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
}

func (t *twiRegs) DisablePullups() {
	t.sda.Configure(machine.PinConfig{Mode: machine.PinInput})
	t.scl.Configure(machine.PinConfig{Mode: machine.PinInput})
}
