package uart

// Public API to easy create serial stubs to test your code.

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
)

// ReadEffect is one scripted Read() outcome.
// Zero effect means silence: Read sleeps read timeout and returns (0, nil).
type ReadEffect struct {
	B     []byte
	Delay time.Duration
	Err   error
}

// ParseScript builds read effects from space separated tokens,
// each token is comma separated parts:
//   t<quoted text>  bytes from Go quoted string without quotes, e.g. tUMD:1|TMP:2\n
//   b<hex>          raw bytes
//   d<duration>     sleep before returning
//   e<message>      return error
//   -               one silent tick
//   -N              N silent ticks
func ParseScript(s string) []ReadEffect {
	var effects []ReadEffect
	for _, es := range strings.Fields(s) {
		if strings.HasPrefix(es, "-") {
			n := 1
			if len(es) > 1 {
				var err error
				if n, err = strconv.Atoi(es[1:]); err != nil {
					panic("code error mock script token=" + es)
				}
			}
			for i := 0; i < n; i++ {
				effects = append(effects, ReadEffect{})
			}
			continue
		}
		e := ReadEffect{}
		for _, token := range strings.Split(es, ",") {
			switch token[0] {
			case 't':
				text, err := strconv.Unquote(`"` + token[1:] + `"`)
				if err != nil {
					panic("code error mock script token=" + token)
				}
				e.B = []byte(text)
			case 'b':
				b, err := hex.DecodeString(token[1:])
				if err != nil {
					panic(err)
				}
				e.B = b
			case 'd':
				d, err := time.ParseDuration(token[1:])
				if err != nil {
					panic(err)
				}
				e.Delay = d
			case 'e':
				e.Err = errors.New(token[1:])
			default:
				panic("unknown token: " + token)
			}
		}
		effects = append(effects, e)
	}
	return effects
}

// MockPort plays scripted effects, then silence forever.
type MockPort struct {
	mu       sync.Mutex
	Path     string
	effects  []ReadEffect
	pending  []byte
	timeout  time.Duration
	written  bytes.Buffer
	writeErr error
	closed   int
	resets   int
}

func NewMockPort(path string, script string) *MockPort {
	return &MockPort{Path: path, effects: ParseScript(script), timeout: time.Millisecond}
}

// Push appends effects while port is in use.
func (self *MockPort) Push(script string) {
	self.mu.Lock()
	self.effects = append(self.effects, ParseScript(script)...)
	self.mu.Unlock()
}

func (self *MockPort) SetWriteError(err error) {
	self.mu.Lock()
	self.writeErr = err
	self.mu.Unlock()
}

func (self *MockPort) Read(p []byte) (int, error) {
	self.mu.Lock()
	if self.closed > 0 {
		self.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(self.pending) > 0 {
		n := copy(p, self.pending)
		self.pending = self.pending[n:]
		self.mu.Unlock()
		return n, nil
	}
	var e ReadEffect
	scripted := len(self.effects) > 0
	if scripted {
		e = self.effects[0]
		self.effects = self.effects[1:]
	}
	timeout := self.timeout
	self.mu.Unlock()

	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}
	if e.Err != nil {
		return 0, e.Err
	}
	if e.B == nil {
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(p, e.B)
	if n < len(e.B) {
		self.mu.Lock()
		self.pending = append(self.pending, e.B[n:]...)
		self.mu.Unlock()
	}
	return n, nil
}

func (self *MockPort) Write(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed > 0 {
		return 0, io.ErrClosedPipe
	}
	if self.writeErr != nil {
		return 0, self.writeErr
	}
	return self.written.Write(p)
}

func (self *MockPort) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closed++
	if self.closed > 1 {
		return errors.Errorf("mock port %s closed %d times", self.Path, self.closed)
	}
	return nil
}

func (self *MockPort) SetReadTimeout(d time.Duration) error {
	self.mu.Lock()
	self.timeout = d
	self.mu.Unlock()
	return nil
}

func (self *MockPort) ResetInputBuffer() error {
	self.mu.Lock()
	self.resets++
	self.pending = nil
	self.mu.Unlock()
	return nil
}

func (self *MockPort) Written() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.written.String()
}

func (self *MockPort) CloseCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

func (self *MockPort) ResetCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.resets
}

// MockOpener hands out queued ports per path and records every open.
// Path without queued port fails to open.
type MockOpener struct {
	mu     sync.Mutex
	queues map[string][]*MockPort
	opened []*MockPort
	errs   map[string]error
}

func NewMockOpener() *MockOpener {
	return &MockOpener{
		queues: make(map[string][]*MockPort),
		errs:   make(map[string]error),
	}
}

// Add queues port for its Path; each Open pops one port.
func (self *MockOpener) Add(ports ...*MockPort) *MockOpener {
	self.mu.Lock()
	defer self.mu.Unlock()
	for _, p := range ports {
		self.queues[p.Path] = append(self.queues[p.Path], p)
	}
	return self
}

func (self *MockOpener) Fail(path string, err error) *MockOpener {
	self.mu.Lock()
	self.errs[path] = err
	self.mu.Unlock()
	return self
}

func (self *MockOpener) Open(path string, baud int) (Port, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := self.errs[path]; err != nil {
		return nil, errors.Trace(&OpenFailure{Path: path, Err: err})
	}
	q := self.queues[path]
	if len(q) == 0 {
		return nil, errors.Trace(&OpenFailure{Path: path, Err: errors.NotFoundf("mock path")})
	}
	p := q[0]
	self.queues[path] = q[1:]
	self.opened = append(self.opened, p)
	return p, nil
}

// Opened returns ports in open order.
func (self *MockOpener) Opened() []*MockPort {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]*MockPort(nil), self.opened...)
}

// Leaked returns opened ports not closed exactly once.
func (self *MockOpener) Leaked() []*MockPort {
	var leaked []*MockPort
	for _, p := range self.Opened() {
		if p.CloseCount() != 1 {
			leaked = append(leaked, p)
		}
	}
	return leaked
}
