package session

import (
	"context"
	"sync"
)

// EventLoop runs posted functions one at a time on the goroutine that calls
// Run. It plays the role of the game tick: every Negotiator call and every
// provider completion goes through it.
type EventLoop struct {
	events   chan func()
	done     chan struct{}
	stopOnce sync.Once
}

// NewEventLoop creates a loop whose queue holds up to buffer pending events
// before Post blocks.
func NewEventLoop(buffer int) *EventLoop {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventLoop{
		events: make(chan func(), buffer),
		done:   make(chan struct{}),
	}
}

// Post queues fn. Posts after the loop has stopped are dropped.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.events <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop and waits for it to return.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled.
func (l *EventLoop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.events:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *EventLoop) Done() <-chan struct{} { return l.done }

func (l *EventLoop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
