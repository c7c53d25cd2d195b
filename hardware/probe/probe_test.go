package probe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorgate/hardware/catalog"
	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/helpers"
	"github.com/temoto/sensorgate/log2"
)

func testConfig() Config {
	return Config{
		Baud:        uart.DefaultBaud,
		Settle:      time.Millisecond,
		ReadTimeout: 2 * time.Millisecond,
		Window:      100 * time.Millisecond,
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	type Case struct {
		name    string
		script  string
		confirm bool
		line    string
		check   func(t testing.TB, err error)
	}
	cases := []Case{
		{"frame", `tUMD:55.0|TMP:22.5\n`, true, "UMD:55.0|TMP:22.5", nil},
		{"after-noise", `t\x00\xffboot\n - tUMD:40|TMP:21\r\n`, true, "UMD:40|TMP:21", nil},
		{"split-chunks", `tUM tD:4 t0|TMP:21\n`, true, "UMD:40|TMP:21", nil},
		{"prefix-only", `tUMD:not-a-number\n`, true, "UMD:not-a-number", nil},
		{"silence", "", false, "", func(t testing.TB, err error) {
			assert.True(t, IsTimeout(err), "err=%v", err)
		}},
		{"chatter", `thello\n tworld\n`, false, "", func(t testing.TB, err error) {
			require.True(t, IsTimeout(err), "err=%v", err)
			assert.Contains(t, err.Error(), "other lines=2")
		}},
		{"no-newline", `tUMD:55|TMP:22`, false, "", func(t testing.TB, err error) {
			assert.True(t, IsTimeout(err), "err=%v", err)
		}},
		{"read-error", `tboot\n eunplugged`, false, "", func(t testing.TB, err error) {
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unplugged")
			assert.False(t, IsTimeout(err))
		}},
	}
	helpers.RandUnix().Shuffle(len(cases), func(i int, j int) { cases[i], cases[j] = cases[j], cases[i] })
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			port := uart.NewMockPort("/dev/ttyACM0", c.script)
			mo := uart.NewMockOpener().Add(port)
			p := New(mo, testConfig(), log2.NewTest(t, log2.LDebug))
			r := p.Probe(context.Background(), catalog.Candidate{Path: "/dev/ttyACM0"})
			assert.Equal(t, c.confirm, r.Confirmed)
			assert.Equal(t, c.line, r.Line)
			assert.Equal(t, "/dev/ttyACM0", r.Candidate.Path)
			if c.confirm {
				assert.NoError(t, r.Reason)
			} else {
				c.check(t, r.Reason)
			}
			assert.Equal(t, 1, port.ResetCount())
			assert.Empty(t, mo.Leaked())
			assert.Equal(t, 1, port.CloseCount())
		})
	}
}

func TestProbeOpenFailure(t *testing.T) {
	t.Parallel()

	mo := uart.NewMockOpener().Fail("COM3", fmt.Errorf("access denied"))
	p := New(mo, testConfig(), log2.NewTest(t, log2.LDebug))
	r := p.Probe(context.Background(), catalog.Candidate{Path: "COM3"})
	assert.False(t, r.Confirmed)
	assert.True(t, IsOpenFailure(r.Reason), "err=%v", r.Reason)
	assert.Contains(t, r.Reason.Error(), "access denied")
	assert.Empty(t, mo.Opened())
}

func TestProbeCancelDuringSettle(t *testing.T) {
	t.Parallel()

	port := uart.NewMockPort("/dev/ttyUSB0", `tUMD:50|TMP:20\n`)
	mo := uart.NewMockOpener().Add(port)
	config := testConfig()
	config.Settle = time.Minute
	p := New(mo, config, log2.NewTest(t, log2.LDebug))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	tbegin := time.Now()
	r := p.Probe(ctx, catalog.Candidate{Path: "/dev/ttyUSB0"})
	assert.Less(t, time.Since(tbegin), 5*time.Second)
	assert.False(t, r.Confirmed)
	assert.ErrorIs(t, r.Reason, context.Canceled)
	assert.Equal(t, 0, port.ResetCount())
	assert.Empty(t, mo.Leaked())
}

func TestProbeCancelDuringListen(t *testing.T) {
	t.Parallel()

	port := uart.NewMockPort("/dev/ttyUSB0", "")
	mo := uart.NewMockOpener().Add(port)
	config := testConfig()
	config.Window = time.Minute
	p := New(mo, config, log2.NewTest(t, log2.LDebug))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := p.Probe(ctx, catalog.Candidate{Path: "/dev/ttyUSB0"})
	assert.False(t, r.Confirmed)
	assert.ErrorIs(t, r.Reason, context.DeadlineExceeded)
	assert.Empty(t, mo.Leaked())
}

func TestProbeCancelledBeforeOpen(t *testing.T) {
	t.Parallel()

	mo := uart.NewMockOpener().Add(uart.NewMockPort("COM5", ""))
	p := New(mo, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := p.Probe(ctx, catalog.Candidate{Path: "COM5"})
	assert.False(t, r.Confirmed)
	assert.ErrorIs(t, r.Reason, context.Canceled)
	assert.Empty(t, mo.Opened())
}

func TestProbeBadCharset(t *testing.T) {
	t.Parallel()

	mo := uart.NewMockOpener().Add(uart.NewMockPort("COM5", ""))
	config := testConfig()
	config.Charset = "no-such-charset"
	r := New(mo, config, nil).Probe(context.Background(), catalog.Candidate{Path: "COM5"})
	assert.False(t, r.Confirmed)
	assert.Error(t, r.Reason)
	assert.Empty(t, mo.Opened())
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(uart.NewMockOpener(), Config{Settle: -1}, nil)
	c := p.Config()
	assert.Equal(t, uart.DefaultBaud, c.Baud)
	assert.Equal(t, time.Duration(0), c.Settle)
	assert.Equal(t, DefaultReadTimeout, c.ReadTimeout)
	assert.Equal(t, DefaultWindow, c.Window)
	assert.Equal(t, DefaultSettle, DefaultConfig().Settle)
}
