//go:build linux

package uart

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// FileOpener configures tty with raw termios and waits for input with TIOCINQ,
// same approach as ser.in_waiting polling.
type FileOpener struct{}

type filePort struct {
	mu      sync.Mutex
	fd      int
	path    string
	timeout time.Duration
}

var bauds = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
	230400: unix.B230400,
}

func (FileOpener) Open(path string, baud int) (Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	speed, ok := bauds[baud]
	if !ok {
		return nil, errors.Trace(&OpenFailure{Path: path, Err: errors.NotSupportedf("baud=%d", baud)})
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, errors.Trace(&OpenFailure{Path: path, Err: err})
	}
	if err = resetTermios(fd, speed); err != nil {
		unix.Close(fd)
		return nil, errors.Trace(&OpenFailure{Path: path, Err: err})
	}
	// reads happen only after TIOCINQ reported data, so blocking mode is fine
	if err = unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, errors.Trace(&OpenFailure{Path: path, Err: err})
	}
	return &filePort{fd: fd, path: path, timeout: 100 * time.Millisecond}, nil
}

// raw 8N1, VMIN=1 VTIME=0
func resetTermios(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return errors.Annotate(err, "TCGETS")
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return errors.Annotate(unix.IoctlSetTermios(fd, unix.TCSETS, t), "TCSETS")
}

func (self *filePort) SetReadTimeout(d time.Duration) error {
	self.mu.Lock()
	self.timeout = d
	self.mu.Unlock()
	return nil
}

func (self *filePort) ResetInputBuffer() error {
	fd, err := self.getfd()
	if err != nil {
		return err
	}
	return errors.Annotate(unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH), "TCFLSH")
}

func (self *filePort) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	self.mu.Lock()
	timeout := self.timeout
	self.mu.Unlock()
	fd, err := self.getfd()
	if err != nil {
		return 0, err
	}
	avail, err := waitRead(fd, timeout)
	if err != nil || avail == 0 {
		return 0, err
	}
	if avail < len(p) {
		p = p[:avail]
	}
	n, err := unix.Read(fd, p)
	if n < 0 {
		n = 0
	}
	return n, errors.Trace(err)
}

func (self *filePort) Write(p []byte) (int, error) {
	fd, err := self.getfd()
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(fd, p)
	if n < 0 {
		n = 0
	}
	return n, errors.Trace(err)
}

func (self *filePort) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fd < 0 {
		return errors.Errorf("uart %s already closed", self.path)
	}
	err := unix.Close(self.fd)
	self.fd = -1
	return errors.Trace(err)
}

func (self *filePort) getfd() (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fd < 0 {
		return -1, errors.Errorf("uart %s closed", self.path)
	}
	return self.fd, nil
}

// waitRead polls input queue size until data or timeout.
// Returns (0, nil) on timeout, error when device is gone.
func waitRead(fd int, wait time.Duration) (int, error) {
	tfinal := time.Now().Add(wait)
	step := wait / 16
	if step < time.Millisecond {
		step = time.Millisecond
	}
	for {
		out, err := unix.IoctlGetInt(fd, unix.TIOCINQ)
		if err != nil {
			return 0, errors.Annotate(err, "TIOCINQ")
		}
		if out > 0 {
			return out, nil
		}
		if !time.Now().Before(tfinal) {
			return 0, nil
		}
		time.Sleep(step)
	}
}
