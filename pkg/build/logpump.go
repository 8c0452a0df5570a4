package build

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	logBuffer     = 256
	logCallBudget = 2 * time.Second
)

// logPump forwards compiler output lines to the journal off the goroutine
// that drains the child's pipes. Lines are dropped when the buffer is full.
type logPump struct {
	mu      sync.Mutex
	closed  bool
	lines   chan string
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
	failed  atomic.Int64
}

func newLogPump(appendLog func(context.Context, string) error) *logPump {
	ctx, cancel := context.WithCancel(context.Background())
	p := &logPump{
		lines:  make(chan string, logBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go func() {
		defer close(p.done)
		for line := range p.lines {
			if p.ctx.Err() != nil {
				p.dropped.Add(1)
				continue
			}
			callCtx, callCancel := context.WithTimeout(p.ctx, logCallBudget)
			if err := appendLog(callCtx, line); err != nil {
				p.failed.Add(1)
			}
			callCancel()
		}
	}()
	return p
}

func (p *logPump) send(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.dropped.Add(1)
		return
	}
	select {
	case p.lines <- line:
	default:
		p.dropped.Add(1)
	}
}

// stop closes the pump and waits up to grace for queued lines to drain.
// Anything still queued afterwards is abandoned.
func (p *logPump) stop(grace time.Duration) {
	p.mu.Lock()
	p.closed = true
	close(p.lines)
	p.mu.Unlock()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
	}
	p.cancel()
}
