// Package uart is the serial connection handle used by probe and supervisor.
//
// Two drivers: go.bug.st/serial (default, all platforms)
// and "file" for Linux termios with TIOCINQ polling.
// Both satisfy Port: Read returns (0, nil) when read timeout passes without data.
package uart

import (
	"expvar"
	"io"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/sensorgate/helpers"
)

const (
	DriverBugst = "bugst"
	DriverFile  = "file"

	DefaultBaud = 9600
)

// AckToken is written to device after successful upload.
var AckToken = []byte("ACK\n")

var (
	statRead  = expvar.NewInt("sensorgate_serial_read_bytes")
	statWrite = expvar.NewInt("sensorgate_serial_write_bytes")
	statError = expvar.NewInt("sensorgate_serial_io_errors")
)

// Port is open serial channel.
type Port interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds every following Read. Read returns (0, nil) on timeout.
	SetReadTimeout(d time.Duration) error
	// ResetInputBuffer discards received but not yet read bytes.
	ResetInputBuffer() error
}

type Opener interface {
	Open(path string, baud int) (Port, error)
}

type OpenerFunc func(path string, baud int) (Port, error)

func (f OpenerFunc) Open(path string, baud int) (Port, error) { return f(path, baud) }

// OpenFailure is returned by Open in all drivers.
type OpenFailure struct {
	Path string
	Err  error
}

func (self *OpenFailure) Error() string { return "uart open " + self.Path + ": " + self.Err.Error() }

func IsOpenFailure(err error) bool {
	_, ok := errors.Cause(err).(*OpenFailure)
	return ok
}

// NewOpener returns driver by name, empty name is DriverBugst.
func NewOpener(driver string) (Opener, error) {
	switch strings.ToLower(driver) {
	case "", DriverBugst:
		return Counting(BugstOpener{}), nil
	case DriverFile:
		return Counting(FileOpener{}), nil
	}
	return nil, errors.NotSupportedf("uart driver=%s", driver)
}

// Counting wraps ports from o with expvar byte and error counters.
func Counting(o Opener) Opener {
	return OpenerFunc(func(path string, baud int) (Port, error) {
		p, err := o.Open(path, baud)
		if err != nil {
			return nil, err
		}
		return &countingPort{
			Port: p,
			r:    helpers.NewStatReader(p, statRead, statError),
			w:    helpers.NewStatWriter(p, statWrite, statError),
		}, nil
	})
}

type countingPort struct {
	Port
	r *helpers.StatReader
	w *helpers.StatWriter
}

func (self *countingPort) Read(p []byte) (int, error)  { return self.r.Read(p) }
func (self *countingPort) Write(p []byte) (int, error) { return self.w.Write(p) }

// WriteAck sends AckToken, retrying short writes.
func WriteAck(p Port) error {
	return errors.Trace(helpers.WriteAll(p, AckToken))
}
