package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/temoto/sensorgate/log2"
)

func TestRunLines(t *testing.T) {
	t.Parallel()

	var got []string
	RunLines(strings.NewReader("state\n\n  ack \r\nquit"), log2.NewTest(t, log2.LDebug), func(line string) {
		got = append(got, line)
	})
	assert.Equal(t, []string{"state", "ack", "quit"}, got)
}
