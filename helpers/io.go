package helpers

import (
	"io"
)

// WriteAll retries short writes until b is fully written or error.
// Serial drivers may accept less than full ack token in one Write.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
