//go:build avr

package avr

import (
	"device/avr"
	"machine"

	"fastarduino/i2c"
)

// usiBus implements i2c.USIBus over the ATtiny USI peripheral's
// USIDR/USISR/USICR registers plus raw SDA/SCL pins, for boards built
// with a USI-only AVR (ATtiny84/85) that has no hardware TWI.
type usiBus struct {
	sda, scl *pin
}

// NewUSI builds the register/pin surface SyncEngine needs. sda/scl start
// released (pulled up externally, as the USI peripheral expects).
func NewUSI(sda, scl machine.Pin) i2c.USIBus {
	return &usiBus{sda: Pin(sda), scl: Pin(scl)}
}

func (u *usiBus) Data() i2c.RegisterAccessor    { return reg8{&avr.USIDR} }
func (u *usiBus) Status() i2c.RegisterAccessor  { return reg8{&avr.USISR} }
func (u *usiBus) Control() i2c.RegisterAccessor { return reg8{&avr.USICR} }
func (u *usiBus) SCL() i2c.GPIOPin              { return u.scl }
func (u *usiBus) SDA() i2c.GPIOPin              { return u.sda }
