package build

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogPumpDeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	p := newLogPump(func(_ context.Context, line string) error {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
		return nil
	})
	p.send("one")
	p.send("two")
	p.stop(time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
	assert.Zero(t, p.dropped.Load())
}

func TestLogPumpDropsInsteadOfBlocking(t *testing.T) {
	release := make(chan struct{})
	p := newLogPump(func(ctx context.Context, _ string) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	})

	start := time.Now()
	for i := 0; i < logBuffer*4; i++ {
		p.send("line")
	}
	assert.Less(t, time.Since(start), time.Second)

	p.stop(50 * time.Millisecond)
	close(release)
	assert.Positive(t, p.dropped.Load())

	// sends after stop are counted, not panics
	p.send("late")
}
