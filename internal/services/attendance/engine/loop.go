package engine

import (
	"context"
	"sync"
)

// loop runs posted work on a single goroutine in post order.
//
// post never blocks and may be called from any goroutine, including from
// inside work running on the loop and from store callbacks that fire while the
// loop is subscribing.
type loop struct {
	mu    sync.Mutex
	queue []func()
	wake  chan struct{}
}

func newLoop() *loop {
	return &loop{wake: make(chan struct{}, 1)}
}

func (l *loop) post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *loop) take() []func() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	return batch
}

// run executes posted work until ctx ends. afterBatch runs once after every
// drained batch so a burst of deliveries publishes one state.
func (l *loop) run(ctx context.Context, afterBatch func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
			if afterBatch != nil {
				afterBatch()
			}
		}
	}
}
