//go:build tinygo

package critical

import "runtime/interrupt"

// Token is the saved interrupt-enable state to restore on Leave.
type Token struct {
	state interrupt.State
}

// sectionImpl disables interrupts globally for the duration of the
// section, mirroring the original core's save/restore-global-interrupt-
// flag critical section. When entered from the ISR, interrupts are
// already masked by hardware, so Disable/Restore leave them masked and
// the ISR body never re-enables them.
type sectionImpl struct{}

func (s *sectionImpl) enter() Token {
	return Token{state: interrupt.Disable()}
}

func (s *sectionImpl) leave(t Token) {
	interrupt.Restore(t.state)
}
