package sched

import (
	"sync"
	"time"
)

// Manual is a Scheduler whose time never advances on its own; tests drive it
// by firing slots explicitly. It lives here (not in a _test file) because
// the typing, undo and engine tests all need it.
type Manual struct {
	mu    sync.Mutex
	slots map[slot]manualEntry
}

type manualEntry struct {
	d  time.Duration
	fn func()
}

// NewManual constructs an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{
		slots: make(map[slot]manualEntry),
	}
}

// Arm records the slot, replacing any existing entry.
func (m *Manual) Arm(p Purpose, key string, d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot{purpose: p, key: key}] = manualEntry{d: d, fn: fn}
}

// Cancel disarms the slot.
func (m *Manual) Cancel(p Purpose, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, slot{purpose: p, key: key})
}

// CancelAll disarms every slot.
func (m *Manual) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = make(map[slot]manualEntry)
}

// Armed reports whether the slot is armed and with what delay.
func (m *Manual) Armed(p Purpose, key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.slots[slot{purpose: p, key: key}]
	return e.d, ok
}

// Fire runs and disarms the slot's callback, as if its timer elapsed.
// It reports false if the slot was not armed.
func (m *Manual) Fire(p Purpose, key string) bool {
	sl := slot{purpose: p, key: key}

	m.mu.Lock()
	e, ok := m.slots[sl]
	if ok {
		delete(m.slots, sl)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.fn()
	return true
}
