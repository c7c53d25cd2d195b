package supervisor

import (
	"fmt"
	"time"

	"github.com/juju/errors"
)

type State int32

const (
	StateDisconnected State = iota
	StateDiscovering
	StateProbing
	StateConnected
	StateReconnecting
	StateStopped
)

var stateNames = [...]string{"Disconnected", "Discovering", "Probing", "Connected", "Reconnecting", "Stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

type EventKind uint8

const (
	EventState EventKind = iota + 1
	EventProbe
	EventRejected
	EventConnectionLost
	EventNoDevice
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventProbe:
		return "probe"
	case EventRejected:
		return "rejected"
	case EventConnectionLost:
		return "connection-lost"
	case EventNoDevice:
		return "no-device"
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Event is diagnostic notification from supervisor worker.
// Slow consumer loses events, never blocks the worker.
type Event struct {
	Kind  EventKind
	Time  time.Time
	State State
	Path  string
	Line  string
	Err   error
}

func (e Event) String() string {
	switch e.Kind {
	case EventState:
		return fmt.Sprintf("%s %s path=%s", e.Kind, e.State, e.Path)
	case EventProbe:
		if e.Err == nil {
			return fmt.Sprintf("%s %s confirmed line=%q", e.Kind, e.Path, e.Line)
		}
		return fmt.Sprintf("%s %s err=%v", e.Kind, e.Path, e.Err)
	case EventRejected:
		return fmt.Sprintf("%s line=%q err=%v", e.Kind, e.Line, e.Err)
	}
	return fmt.Sprintf("%s path=%s err=%v", e.Kind, e.Path, e.Err)
}

var ErrNotConnected = errors.New("not connected")

// NoDeviceFound is discovery exhausted. Candidates=0 is terminal.
type NoDeviceFound struct {
	Candidates int
	Err        error
}

func (self *NoDeviceFound) Error() string {
	if self.Candidates == 0 {
		if self.Err != nil {
			return "no serial device found: " + self.Err.Error()
		}
		return "no serial device found"
	}
	return fmt.Sprintf("no device confirmed among %d candidates: %v", self.Candidates, self.Err)
}

func IsNoDeviceFound(err error) bool {
	_, ok := errors.Cause(err).(*NoDeviceFound)
	return ok
}

// ConnectionLost is I/O error or silence longer than threshold.
type ConnectionLost struct {
	Path    string
	Err     error
	Silence time.Duration
}

func (self *ConnectionLost) Error() string {
	if self.Err != nil {
		return fmt.Sprintf("connection lost %s: %v", self.Path, self.Err)
	}
	return fmt.Sprintf("connection lost %s: silence %s", self.Path, self.Silence)
}

func (self *ConnectionLost) Reason() string {
	if self.Err != nil {
		return "io"
	}
	return "silence"
}

func IsConnectionLost(err error) bool {
	_, ok := errors.Cause(err).(*ConnectionLost)
	return ok
}
