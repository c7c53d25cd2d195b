package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 7*time.Second, IntSecondDefault(0, 7*time.Second))
	assert.Equal(t, 3*time.Second, IntSecondDefault(3, 7*time.Second))
	assert.Equal(t, 100*time.Millisecond, IntMillisecondDefault(-1, 100*time.Millisecond))
	assert.Equal(t, 250*time.Millisecond, IntMillisecondDefault(250, 100*time.Millisecond))
}

func TestSleepContext(t *testing.T) {
	t.Parallel()

	assert.True(t, SleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	begin := time.Now()
	assert.False(t, SleepContext(ctx, time.Hour))
	assert.Less(t, time.Since(begin), time.Second)
	assert.False(t, SleepContext(ctx, 0))
}
