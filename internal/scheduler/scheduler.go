// Package scheduler provides the deferred-callback primitives sessions run on.
//
// Every timer a session owns goes through a Scheduler so it can be cancelled as a unit
// (see Group) and so tests can drive time by hand (see Manual).
package scheduler

import (
	"sync"
	"time"
)

// Task is the cancellation token of one scheduled callback.
type Task interface {
	// Cancel stops the task. It reports whether this call stopped it; a task that
	// already fired (one-shot) or was already cancelled returns false.
	Cancel() bool
}

// Scheduler registers deferred callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Task
	Every(d time.Duration, f func()) Task
}

// Real returns a Scheduler backed by the runtime timers. Callbacks run on their own
// goroutines.
func Real() Scheduler {
	return realScheduler{}
}

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) AfterFunc(d time.Duration, f func()) Task {
	return &realTimer{t: time.AfterFunc(d, f)}
}

func (realScheduler) Every(d time.Duration, f func()) Task {
	t := &realTicker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.loop(f)
	return t
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) Cancel() bool {
	return r.t.Stop()
}

type realTicker struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (r *realTicker) loop(f func()) {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.C:
			select {
			case <-r.done:
				return
			default:
			}
			f()
		}
	}
}

func (r *realTicker) Cancel() bool {
	stopped := false
	r.once.Do(func() {
		r.ticker.Stop()
		close(r.done)
		stopped = true
	})
	return stopped
}
