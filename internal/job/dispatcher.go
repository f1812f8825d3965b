package job

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Dispatcher is a queue of callbacks drained by a single goroutine. Work that must not run concurrently with the
// owner of the registry is posted here.
type Dispatcher struct {
	queue chan func()
}

// NewDispatcher creates a dispatcher whose queue holds size callbacks before Post blocks.
func NewDispatcher(size int) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{queue: make(chan func(), size)}
}

// Post queues fn. It blocks while the queue is full.
func (d *Dispatcher) Post(fn func()) {
	d.queue <- fn
}

// RunOnce waits for one callback and runs it.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	select {
	case fn := <-d.queue:
		invoke(fn)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains callbacks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := d.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// Drain runs the callbacks already queued without waiting and returns how many ran.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case fn := <-d.queue:
			invoke(fn)
			n++
		default:
			return n
		}
	}
}

// RunUntil drains callbacks until done is closed or ctx ends.
func (d *Dispatcher) RunUntil(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case <-done:
			return nil
		case fn := <-d.queue:
			invoke(fn)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// invoke runs fn, logging a panic instead of taking down the consumer goroutine.
func invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("Dispatched callback panicked")
		}
	}()
	fn()
}
