package uart

import (
	"expvar"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScript(t *testing.T) {
	t.Parallel()

	effects := ParseScript(`tUMD:1|TMP:2\n -3 b0a0d d5ms,eIO`)
	require.Len(t, effects, 6)
	assert.Equal(t, "UMD:1|TMP:2\n", string(effects[0].B))
	assert.Equal(t, ReadEffect{}, effects[1])
	assert.Equal(t, ReadEffect{}, effects[3])
	assert.Equal(t, []byte{'\n', '\r'}, effects[4].B)
	assert.Equal(t, 5*time.Millisecond, effects[5].Delay)
	assert.EqualError(t, effects[5].Err, "IO")
}

func TestMockPort(t *testing.T) {
	t.Parallel()

	p := NewMockPort("/dev/mock0", `tabcdef - eIO`)
	buf := make([]byte, 4)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))
	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]), "rest of chunk before next effect")
	n, err = p.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, 0, n, "silent tick")
	_, err = p.Read(buf)
	assert.EqualError(t, err, "IO")

	require.NoError(t, WriteAck(p))
	assert.Equal(t, "ACK\n", p.Written())

	require.NoError(t, p.Close())
	assert.Error(t, p.Close())
	assert.Equal(t, 2, p.CloseCount())
	_, err = p.Read(buf)
	assert.Equal(t, io.ErrClosedPipe, err)
}

func TestMockOpener(t *testing.T) {
	t.Parallel()

	o := NewMockOpener().Add(NewMockPort("/dev/a", ""), NewMockPort("/dev/a", ""))
	o.Fail("/dev/busy", io.ErrUnexpectedEOF)

	_, err := o.Open("/dev/busy", 9600)
	assert.True(t, IsOpenFailure(err))
	_, err = o.Open("/dev/none", 9600)
	assert.True(t, IsOpenFailure(err))

	p1, err := o.Open("/dev/a", 9600)
	require.NoError(t, err)
	p2, err := o.Open("/dev/a", 9600)
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
	require.NoError(t, p1.Close())
	assert.Len(t, o.Leaked(), 1)
	require.NoError(t, p2.Close())
	assert.Empty(t, o.Leaked())
}

func TestCounting(t *testing.T) {
	t.Parallel()

	o := Counting(NewMockOpener().Add(NewMockPort("/dev/c", `tUMD:1|TMP:2\n`)))
	p, err := o.Open("/dev/c", 9600)
	require.NoError(t, err)
	before := expvar.Get("sensorgate_serial_read_bytes").(*expvar.Int).Value()
	buf := make([]byte, 64)
	n, err := p.Read(buf)
	require.NoError(t, err)
	after := expvar.Get("sensorgate_serial_read_bytes").(*expvar.Int).Value()
	assert.GreaterOrEqual(t, after-before, int64(n))
	require.NoError(t, WriteAck(p))
	require.NoError(t, p.Close())
}

func TestNewOpener(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "bugst", "file", "FILE"} {
		o, err := NewOpener(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, o, name)
	}
	_, err := NewOpener("iodin")
	assert.Error(t, err)
}
