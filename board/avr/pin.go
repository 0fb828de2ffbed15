// Package avr wires the i2c package's register/pin interfaces to TinyGo's
// bare-metal AVR support (device/avr raw registers, machine.Pin GPIO), the
// way the devicecode-go provider package wires its resource registry to
// machine.I2C/machine.Pin for RP2040.
package avr

import "machine"

// pin adapts machine.Pin to i2c.GPIOPin.
type pin struct {
	p machine.Pin
}

// Pin wraps an AVR GPIO pin for use as an i2c.GPIOPin (SDA/SCL on a
// bit-banged USI bus).
func Pin(p machine.Pin) *pin {
	return &pin{p: p}
}

func (g *pin) Get() bool { return g.p.Get() }
func (g *pin) Set(v bool) {
	if v {
		g.p.High()
	} else {
		g.p.Low()
	}
}

func (g *pin) SetOutput(out bool) {
	if out {
		g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	} else {
		g.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
}
