package clock

import (
	"sort"
	"sync"
	"time"
)

// Mock is a virtual Clock for tests: Advance fires any timers whose deadline
// has passed instead of waiting for the wall clock.
type Mock struct {
	mu     sync.Mutex
	now    time.Time
	timers map[*mockTimer]struct{}
}

var _ Clock = &Mock{}

// NewMock returns a Mock seeded at the current wall-clock time.
func NewMock() *Mock {
	return &Mock{
		now:    time.Now(),
		timers: map[*mockTimer]struct{}{},
	}
}

// Now implements Clock.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// NewTimer implements Clock.
func (m *Mock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &mockTimer{
		mock:     m,
		deadline: m.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	m.timers[t] = struct{}{}
	return t
}

// Advance moves virtual time forward by d, firing every timer whose
// deadline falls at or before the new time, in deadline order.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)

	var due []*mockTimer
	for t := range m.timers {
		if t.stopped {
			continue
		}
		if !t.deadline.After(target) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

	m.now = target
	for _, t := range due {
		delete(m.timers, t)
		t.stopped = true
		t.c <- t.deadline
	}
	m.mu.Unlock()
}

// Pending returns the number of timers that have not fired or been
// stopped. Tests use this to assert "no orphan timers" (§8 property 2).
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

type mockTimer struct {
	mock     *Mock
	deadline time.Time
	c        chan time.Time
	stopped  bool
}

func (t *mockTimer) C() <-chan time.Time { return t.c }

func (t *mockTimer) Stop() {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		delete(t.mock.timers, t)
	}
}
