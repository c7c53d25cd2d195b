package state

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/sensorgate/hardware/uart"
	"github.com/temoto/sensorgate/internal/config"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

// NewTestContext wires Global from inline config with mock serial ports and mock sink.
func NewTestContext(t testing.TB, confString string, opener *uart.MockOpener) (context.Context, *Global, *sink.Mock) {
	fs := config.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("sensorgate_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = "test"
	g.Hardware.Opener = opener
	mock := &sink.Mock{}
	g.Sink = mock
	g.MustInit(ctx, config.MustRead(log, fs, "test-inline"))
	if err := g.InitSink(ctx); err != nil {
		t.Fatal(err)
	}
	return ctx, g, mock
}
