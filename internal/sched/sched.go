// Package sched provides cancellable, rearmable timers keyed by
// (purpose, key) slots.
//
// Only one timer per slot may be live: arming a slot cancels and replaces
// any existing timer for it. This replaces the source design's ad hoc
// callbacks with scheduled tasks whose cancellation is tied to lifecycle
// events (conversation switch, logout).
package sched

import (
	"sync"
	"time"
)

// Purpose names a timer family. Consuming packages define their own values.
type Purpose string

type slot struct {
	purpose Purpose
	key     string
}

// Scheduler arms and cancels (purpose, key) timer slots.
type Scheduler interface {
	// Arm schedules fn to run after d, replacing any live timer in the slot.
	Arm(p Purpose, key string, d time.Duration, fn func())
	// Cancel disarms the slot if armed.
	Cancel(p Purpose, key string)
	// CancelAll disarms every slot.
	CancelAll()
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
// Callbacks run on their own goroutine and must do their own locking.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[slot]*time.Timer
}

// NewTimerScheduler constructs an empty TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		timers: make(map[slot]*time.Timer),
	}
}

// Arm schedules fn after d, cancelling any live timer in the slot first.
func (s *TimerScheduler) Arm(p Purpose, key string, d time.Duration, fn func()) {
	sl := slot{purpose: p, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sl]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		// Only clear the slot if it still refers to this timer; a rearm may
		// have replaced it between firing and acquiring the lock.
		if cur, ok := s.timers[sl]; ok && cur == t {
			delete(s.timers, sl)
		} else {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		fn()
	})
	s.timers[sl] = t
}

// Cancel disarms the slot if armed.
func (s *TimerScheduler) Cancel(p Purpose, key string) {
	sl := slot{purpose: p, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sl]; ok {
		t.Stop()
		delete(s.timers, sl)
	}
}

// CancelAll disarms every slot.
func (s *TimerScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sl, t := range s.timers {
		t.Stop()
		delete(s.timers, sl)
	}
}
