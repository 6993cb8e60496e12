package timer

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance. Callbacks run on the goroutine
// calling Advance, in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	seq     uint64
	pending []*manualEntry
}

type manualEntry struct {
	m       *Manual
	at      time.Duration
	seq     uint64
	f       func()
	stopped bool
}

func (e *manualEntry) Stop() bool {
	e.m.mu.Lock()
	defer e.m.mu.Unlock()
	was := !e.stopped
	e.stopped = true
	return was
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := &manualEntry{m: m, at: m.now + d, seq: m.seq, f: f}
	m.pending = append(m.pending, e)
	return e
}

// Elapsed is the total time advanced so far.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending counts callbacks that are scheduled and not stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pending {
		if !e.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every callback that falls due,
// including ones scheduled by callbacks fired during this call.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		e := m.nextDue(target)
		if e == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = e.at
		e.stopped = true
		m.mu.Unlock()
		e.f()
	}
}

func (m *Manual) nextDue(target time.Duration) *manualEntry {
	live := m.pending[:0]
	for _, e := range m.pending {
		if !e.stopped {
			live = append(live, e)
		}
	}
	m.pending = live
	sort.SliceStable(m.pending, func(i, j int) bool {
		if m.pending[i].at == m.pending[j].at {
			return m.pending[i].seq < m.pending[j].seq
		}
		return m.pending[i].at < m.pending[j].at
	})
	if len(m.pending) == 0 || m.pending[0].at > target {
		return nil
	}
	return m.pending[0]
}
