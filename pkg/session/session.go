// Package session owns the capture session of one device: a single control
// goroutine consumes typed events from hardware callbacks, timers, the
// persistence worker and the user, and runs every transition.
package session

import (
	"context"
	"sync"

	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/sequence"
)

const eventBuffer = 64

// Session is the goroutine-safe handle around a Machine.
type Session struct {
	m      *Machine
	events chan event

	startOnce sync.Once
	closeOnce sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// New builds a session. Nothing runs until Start.
func New(cfg Config, opts Options, deps Deps) *Session {
	s := &Session{
		events: make(chan event, eventBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.m = newMachine(cfg, opts, deps, s.post, s.postFrame)

	return s
}

// Start launches the control goroutine and opens device id, or the first
// qualifying device when id is empty.
func (s *Session) Start(ctx context.Context, id string) error {
	s.startOnce.Do(func() { go s.loop() })

	reply := make(chan error, 1)
	if !s.send(openEvent{id: id, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.m.shutdown()
			s.discard()
			return
		case ev := <-s.events:
			s.m.Handle(ev)
		}
	}
}

// discard releases device buffers still sitting in the queue.
func (s *Session) discard() {
	for {
		select {
		case ev := <-s.events:
			if a, ok := ev.(artifactEvent); ok {
				a.a.release()
			}
		default:
			return
		}
	}
}

// post delivers an event, blocking while the buffer is full. Events posted
// after Close are dropped.
func (s *Session) post(ev event) {
	s.send(ev)
}

func (s *Session) send(ev event) bool {
	select {
	case <-s.quit:
		return s.drop(ev)
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return s.drop(ev)
	}
}

func (s *Session) drop(ev event) bool {
	if a, ok := ev.(artifactEvent); ok {
		a.a.release()
	}
	return false
}

// postFrame never blocks: preview frames are dropped while the loop is behind.
func (s *Session) postFrame(ev event) bool {
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

// Capture requests one still capture.
func (s *Session) Capture() { s.post(captureEvent{source: sourceUser}) }

// HoldTrigger starts or stops continuous capture.
func (s *Session) HoldTrigger(held bool) { s.post(holdTriggerEvent{held: held}) }

// Tap requests focus at a point in normalized [0,1] preview coordinates.
func (s *Session) Tap(x, y float64) { s.post(tapEvent{x: x, y: y}) }

func (s *Session) SetFocus(mode FocusMode, distance float32) {
	s.post(focusEvent{mode: mode, distance: distance})
}

func (s *Session) SetExposure(e exposure.Setting) { s.post(exposureEvent{s: e}) }

func (s *Session) Step(c Control, dir int) { s.post(stepEvent{control: c, dir: dir}) }

func (s *Session) SetCompensation(v int) { s.post(compensationEvent{value: v}) }

func (s *Session) SetOptions(o Options) { s.post(optionsEvent{o: o}) }

func (s *Session) SelectDevice(id string) { s.post(selectDeviceEvent{id: id}) }

func (s *Session) StartSequence(cfg sequence.Config) error {
	reply := make(chan error, 1)
	if !s.send(sequenceStartEvent{cfg: cfg, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) StopSequence() { s.post(sequenceStopEvent{}) }

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.send(snapshotEvent{reply: reply}) {
		return Snapshot{}, ErrClosed
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrClosed
	}
}

// Close stops the loop, closes the device and the persistence worker. Jobs
// not yet written are dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	s.startOnce.Do(func() { go s.loop() })
	<-s.done
}
