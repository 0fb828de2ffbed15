// Package critical provides the interrupt-safe mutual exclusion primitive
// shared by FutureStore and CommandQueue. On bare-metal builds it disables
// and restores the global interrupt-enable flag around the guarded block,
// the way the original AVR core's `synchronized` blocks do; on host/test
// builds (and any target without a runtime/interrupt.Disable) it falls
// back to a mutex, since there is no ISR to race with.
package critical

// Section is a lock guarding state shared between foreground code and an
// interrupt handler. It is not re-entrant: fn passed to Do must not enter
// the same Section again. The interrupt path enters Sections too (through
// FutureStore and CommandQueue calls); on bare-metal builds that only
// saves and restores the already-masked interrupt state.
type Section struct {
	impl sectionImpl
}

// Enter begins a critical section, returning a token to pass to Leave.
func (s *Section) Enter() Token {
	return s.impl.enter()
}

// Leave ends the critical section started by the matching Enter.
func (s *Section) Leave(t Token) {
	s.impl.leave(t)
}

// Do runs fn inside a critical section.
func (s *Section) Do(fn func()) {
	t := s.Enter()
	defer s.Leave(t)
	fn()
}
