package sink

import (
	"context"
	"sync"

	"github.com/temoto/sensorgate/frame"
)

// Mock records readings. Send and Check pop scripted errors, nil when script ended.
type Mock struct {
	mu        sync.Mutex
	sendErrs  []error
	checkErrs []error
	sent      []frame.Reading
	checks    int
	closed    int
	// OnSend runs before Send returns, outside of lock.
	OnSend func(r frame.Reading)
}

var _ Sink = &Mock{}

func (self *Mock) FailSend(errs ...error) *Mock {
	self.mu.Lock()
	self.sendErrs = append(self.sendErrs, errs...)
	self.mu.Unlock()
	return self
}

func (self *Mock) FailCheck(errs ...error) *Mock {
	self.mu.Lock()
	self.checkErrs = append(self.checkErrs, errs...)
	self.mu.Unlock()
	return self
}

func (self *Mock) Send(ctx context.Context, r frame.Reading) error {
	self.mu.Lock()
	var err error
	if len(self.sendErrs) > 0 {
		err, self.sendErrs = self.sendErrs[0], self.sendErrs[1:]
	}
	if err == nil {
		self.sent = append(self.sent, r)
	}
	onSend := self.OnSend
	self.mu.Unlock()
	if onSend != nil {
		onSend(r)
	}
	return err
}

func (self *Mock) Check(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.checks++
	var err error
	if len(self.checkErrs) > 0 {
		err, self.checkErrs = self.checkErrs[0], self.checkErrs[1:]
	}
	return err
}

func (self *Mock) Close() error {
	self.mu.Lock()
	self.closed++
	self.mu.Unlock()
	return nil
}

func (self *Mock) Sent() []frame.Reading {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]frame.Reading(nil), self.sent...)
}

func (self *Mock) Checks() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.checks
}

func (self *Mock) Closed() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}
