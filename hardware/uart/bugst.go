package uart

import (
	"github.com/juju/errors"
	"go.bug.st/serial"
)

// BugstOpener opens ports with go.bug.st/serial, 8N1.
type BugstOpener struct{}

func (BugstOpener) Open(path string, baud int) (Port, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, errors.Trace(&OpenFailure{Path: path, Err: err})
	}
	// serial.Port already has SetReadTimeout and ResetInputBuffer
	return p, nil
}
