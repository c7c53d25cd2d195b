//go:build !linux

package uart

import "github.com/juju/errors"

// FileOpener is Linux only.
type FileOpener struct{}

func (FileOpener) Open(path string, baud int) (Port, error) {
	return nil, errors.Trace(&OpenFailure{Path: path, Err: errors.NotSupportedf("uart driver=file on this platform")})
}
