package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// QueueSize bounds the calls an Async holds before dropping the oldest.
const QueueSize = 16

type delivery struct {
	show bool
	sum  Summary
}

// Async hands Show and Clear to another presenter from its own goroutine,
// so the caller never waits on delivery. Calls are delivered in order. When
// the queue is full the oldest undelivered call is dropped.
type Async struct {
	next   Presenter
	logger *slog.Logger

	mu      sync.Mutex
	queue   []delivery
	dropped int64
	wake    chan struct{}
}

// NewAsync returns an Async delivering to next. Nothing is delivered until
// Run is called.
func NewAsync(next Presenter, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, logger: logger, wake: make(chan struct{}, 1)}
}

// Show queues s and returns immediately.
func (a *Async) Show(_ context.Context, s Summary) error {
	a.put(delivery{show: true, sum: s})
	return nil
}

// Clear queues a clear and returns immediately.
func (a *Async) Clear(context.Context) error {
	a.put(delivery{})
	return nil
}

// Dropped returns how many queued calls were discarded on overflow.
func (a *Async) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Async) put(d delivery) {
	a.mu.Lock()
	if len(a.queue) >= QueueSize {
		copy(a.queue, a.queue[1:])
		a.queue = a.queue[:len(a.queue)-1]
		a.dropped++
		a.logger.Warn("alert: delivery queue full, oldest call dropped", "dropped", a.dropped)
	}
	a.queue = append(a.queue, d)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Async) take() (delivery, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return delivery{}, false
	}
	d := a.queue[0]
	copy(a.queue, a.queue[1:])
	a.queue = a.queue[:len(a.queue)-1]
	return d, true
}

// Run delivers queued calls until ctx is done. ctx is passed to the wrapped
// presenter; calls still queued when it ends are discarded.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}
		for ctx.Err() == nil {
			d, ok := a.take()
			if !ok {
				break
			}
			a.deliver(ctx, d)
		}
	}
}

func (a *Async) deliver(ctx context.Context, d delivery) {
	var err error
	op := "clear"
	if d.show {
		op = "show"
		err = a.next.Show(ctx, d.sum)
	} else {
		err = a.next.Clear(ctx)
	}
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("alert: delivery failed", "op", op, "presenter", fmt.Sprintf("%T", a.next), "error", err)
	}
}
