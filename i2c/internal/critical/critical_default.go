//go:build !tinygo

package critical

import "sync"

// Token carries whatever state Leave needs to restore; on the host build
// it is unused.
type Token struct{}

type sectionImpl struct {
	mu sync.Mutex
}

func (s *sectionImpl) enter() Token {
	s.mu.Lock()
	return Token{}
}

func (s *sectionImpl) leave(Token) {
	s.mu.Unlock()
}
