// Package timer provides the single cancellable deferred task used by the
// session for admission retries, sequence countdowns and debounces.
//
// A Deferred is owned by exactly one goroutine (the session control loop).
// Arm, Cancel and the firing itself all run on that goroutine: the underlying
// clock only wakes up a Post function, which hands the firing back to the
// owner. Firings that were in flight when the task got cancelled or re-armed
// are recognised by their generation and dropped.
package timer

import (
	"time"
)

// Stopper cancels a pending clock callback.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f after d on an arbitrary goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// Post hands a function to the owning goroutine.
type Post func(fn func())

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Real is the wall clock scheduler.
var Real Scheduler = realScheduler{}

// Deferred is a fire-once task that is always cancelled before being re-armed.
type Deferred struct {
	name  string
	sched Scheduler
	post  Post

	gen   uint64
	armed bool
	stop  Stopper
	fn    func()
}

func NewDeferred(name string, sched Scheduler, post Post) *Deferred {
	if sched == nil {
		sched = Real
	}
	return &Deferred{name: name, sched: sched, post: post}
}

// Arm cancels any pending firing and schedules fn after delay.
func (d *Deferred) Arm(delay time.Duration, fn func()) {
	d.Cancel()
	d.gen++
	gen := d.gen
	d.fn = fn
	d.armed = true
	d.stop = d.sched.AfterFunc(delay, func() {
		d.post(func() { d.fire(gen) })
	})
}

// Cancel drops the pending firing, if any. It is safe to call on an idle task.
func (d *Deferred) Cancel() {
	if d.stop != nil {
		d.stop.Stop()
		d.stop = nil
	}
	if d.armed {
		d.gen++
	}
	d.armed = false
	d.fn = nil
}

// Armed reports whether a firing is pending.
func (d *Deferred) Armed() bool {
	return d.armed
}

func (d *Deferred) Name() string {
	return d.name
}

func (d *Deferred) fire(gen uint64) {
	if !d.armed || gen != d.gen {
		return
	}
	fn := d.fn
	d.armed = false
	d.fn = nil
	d.stop = nil
	if fn != nil {
		fn()
	}
}
