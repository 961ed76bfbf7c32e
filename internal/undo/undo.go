// Package undo implements the soft-delete state machine for cleared
// conversations: none -> pendingUndo(deadline) -> none.
//
// A snapshot is created only when the server acknowledges a clear (never
// purely locally) and is destroyed either by an acknowledged restore or by
// the countdown elapsing, whichever occurs first. Expiry is purely local
// bookkeeping; authoritative permanent deletion is the server's concern.
//
// Exactly one snapshot is tracked at a time, as in the source design: a
// second chat-cleared while one is pending overwrites it, and the
// overwritten conversation is no longer restorable locally.
package undo

import (
	"sync"
	"time"

	"chatlink/internal/sched"
	"chatlink/internal/store"
)

// PurposeExpiry is the timer slot purpose for the countdown.
const PurposeExpiry sched.Purpose = "undo.expiry"

// Snapshot is the temporarily retained set of removed messages plus the
// countdown deadline, enabling a bounded-time undo.
type Snapshot struct {
	ConversationID string
	Partner        string
	Messages       []store.Message
	Deadline       time.Time
}

// Coordinator owns the single undo slot.
type Coordinator struct {
	sch    sched.Scheduler
	window time.Duration

	onExpire func(Snapshot)

	mu   sync.Mutex
	snap *Snapshot
}

// New constructs a Coordinator. onExpire runs (outside the lock) when the
// countdown elapses without a restore; it may be nil.
func New(sch sched.Scheduler, window time.Duration, onExpire func(Snapshot)) *Coordinator {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Coordinator{
		sch:      sch,
		window:   window,
		onExpire: onExpire,
	}
}

// Begin enters pendingUndo for the conversation, overwriting any pending
// snapshot and restarting the countdown.
func (c *Coordinator) Begin(conversationID, partner string, msgs []store.Message, now time.Time) Snapshot {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	snap := Snapshot{
		ConversationID: conversationID,
		Partner:        partner,
		Messages:       append([]store.Message(nil), msgs...),
		Deadline:       now.Add(c.window),
	}

	c.mu.Lock()
	prev := c.snap
	c.snap = &snap
	c.mu.Unlock()

	if prev != nil && prev.ConversationID != conversationID {
		c.sch.Cancel(PurposeExpiry, prev.ConversationID)
	}
	c.sch.Arm(PurposeExpiry, conversationID, c.window, func() { c.expire(conversationID) })

	return snap
}

// Pending returns the live snapshot, if any.
func (c *Coordinator) Pending() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil {
		return Snapshot{}, false
	}
	return *c.snap, true
}

// Resolve destroys the snapshot for conversationID (acknowledged restore)
// and cancels its countdown. It reports false if no matching snapshot was
// pending, in which case the restore acknowledgment is absorbed as a no-op.
func (c *Coordinator) Resolve(conversationID string) (Snapshot, bool) {
	c.mu.Lock()
	if c.snap == nil || c.snap.ConversationID != conversationID {
		c.mu.Unlock()
		return Snapshot{}, false
	}
	snap := *c.snap
	c.snap = nil
	c.mu.Unlock()

	c.sch.Cancel(PurposeExpiry, conversationID)
	return snap, true
}

// Reset discards any pending snapshot without invoking onExpire (logout).
func (c *Coordinator) Reset() {
	c.mu.Lock()
	snap := c.snap
	c.snap = nil
	c.mu.Unlock()

	if snap != nil {
		c.sch.Cancel(PurposeExpiry, snap.ConversationID)
	}
}

func (c *Coordinator) expire(conversationID string) {
	c.mu.Lock()
	if c.snap == nil || c.snap.ConversationID != conversationID {
		c.mu.Unlock()
		return
	}
	snap := *c.snap
	c.snap = nil
	c.mu.Unlock()

	if c.onExpire != nil {
		c.onExpire(snap)
	}
}
