package helpers

import (
	"expvar"
	"io"
)

// StatReader adds bytes read to N and failed reads to E. E may be nil.
// Zero byte read without error (serial read timeout) is not counted.
type StatReader struct {
	R io.Reader
	N *expvar.Int
	E *expvar.Int
}

var _ io.Reader = &StatReader{}

func NewStatReader(r io.Reader, n, e *expvar.Int) *StatReader {
	return &StatReader{R: r, N: n, E: e}
}

func (sr *StatReader) Read(p []byte) (int, error) {
	n, err := sr.R.Read(p)
	count(sr.N, sr.E, n, err)
	return n, err
}

// StatWriter is StatReader for writes.
type StatWriter struct {
	W io.Writer
	N *expvar.Int
	E *expvar.Int
}

var _ io.Writer = &StatWriter{}

func NewStatWriter(w io.Writer, n, e *expvar.Int) *StatWriter {
	return &StatWriter{W: w, N: n, E: e}
}

func (sw *StatWriter) Write(p []byte) (int, error) {
	n, err := sw.W.Write(p)
	count(sw.N, sw.E, n, err)
	return n, err
}

func count(bytes, errs *expvar.Int, n int, err error) {
	if n > 0 {
		bytes.Add(int64(n))
	}
	if err != nil && err != io.EOF && errs != nil {
		errs.Add(1)
	}
}
