package led

import "sync"

// Mock records every Set.
type Mock struct {
	mu     sync.Mutex
	states []bool
	closed bool
}

func (self *Mock) Set(on bool) error {
	self.mu.Lock()
	self.states = append(self.states, on)
	self.mu.Unlock()
	return nil
}

func (self *Mock) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

func (self *Mock) States() []bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]bool(nil), self.states...)
}

// Last returns last state, false when never set.
func (self *Mock) Last() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.states) > 0 && self.states[len(self.states)-1]
}

func (self *Mock) Closed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}
