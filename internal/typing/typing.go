// Package typing implements the debounced typing-presence protocol.
//
// Local path: the first keystroke in an active conversation emits a single
// typing-start and arms an inactivity timer; further keystrokes rearm the
// timer without re-emitting. The timer elapsing, a message send, or a
// conversation switch emits exactly one typing-stop per idle transition.
//
// Remote path: the peer is trusted to send its own typing-stop, but the
// indicator also expires locally after a few multiples of the inactivity
// window, because the transport does not guarantee delivery ordering across
// reconnects and a lost typing-stop must not wedge the indicator.
package typing

import (
	"sync"
	"time"

	"chatlink/internal/sched"
)

// Timer slot purposes.
const (
	PurposeLocal  sched.Purpose = "typing.local"
	PurposeRemote sched.Purpose = "typing.remote"
)

// remoteExpiryFactor scales the inactivity window for the remote indicator
// expiry.
const remoteExpiryFactor = 3

// Coordinator tracks local and remote typing state per partner.
type Coordinator struct {
	sch        sched.Scheduler
	inactivity time.Duration

	emitStart func(partner string)
	emitStop  func(partner string)
	onRemote  func(partner string, typing bool)

	mu     sync.Mutex
	local  map[string]bool
	remote map[string]bool
}

// New constructs a Coordinator.
//
// emitStart/emitStop emit the outbound typing signals; onRemote is invoked
// when a partner's displayed indicator changes. All three run outside the
// coordinator lock and may be nil.
func New(sch sched.Scheduler, inactivity time.Duration, emitStart, emitStop func(string), onRemote func(string, bool)) *Coordinator {
	if inactivity <= 0 {
		inactivity = 3 * time.Second
	}
	return &Coordinator{
		sch:        sch,
		inactivity: inactivity,
		emitStart:  emitStart,
		emitStop:   emitStop,
		onRemote:   onRemote,
		local:      make(map[string]bool),
		remote:     make(map[string]bool),
	}
}

// Keystroke registers local typing activity toward partner. Emits
// typing-start only on the idle -> typing transition; always rearms the
// inactivity timer.
func (c *Coordinator) Keystroke(partner string) {
	if partner == "" {
		return
	}

	c.mu.Lock()
	started := !c.local[partner]
	c.local[partner] = true
	c.mu.Unlock()

	c.sch.Arm(PurposeLocal, partner, c.inactivity, func() { c.quiesce(partner) })

	if started && c.emitStart != nil {
		c.emitStart(partner)
	}
}

// quiesce is the inactivity timer callback.
func (c *Coordinator) quiesce(partner string) {
	c.stopLocal(partner, false)
}

// MessageSent registers that a message was sent to partner: the typing
// signal ends immediately rather than waiting out the timer.
func (c *Coordinator) MessageSent(partner string) {
	c.stopLocal(partner, true)
}

// SwitchAway ends any outgoing typing signal toward partner, cancelling its
// timer. Called when the active conversation changes so the previous partner
// is never left perpetually "typing".
func (c *Coordinator) SwitchAway(partner string) {
	c.stopLocal(partner, true)
}

func (c *Coordinator) stopLocal(partner string, cancelTimer bool) {
	if partner == "" {
		return
	}

	c.mu.Lock()
	wasTyping := c.local[partner]
	delete(c.local, partner)
	c.mu.Unlock()

	if cancelTimer {
		c.sch.Cancel(PurposeLocal, partner)
	}

	if wasTyping && c.emitStop != nil {
		c.emitStop(partner)
	}
}

// RemoteStart marks the partner as typing and arms the expiry timer.
func (c *Coordinator) RemoteStart(partner string) {
	if partner == "" {
		return
	}

	c.mu.Lock()
	changed := !c.remote[partner]
	c.remote[partner] = true
	c.mu.Unlock()

	c.sch.Arm(PurposeRemote, partner, remoteExpiryFactor*c.inactivity, func() { c.remoteExpire(partner) })

	if changed && c.onRemote != nil {
		c.onRemote(partner, true)
	}
}

// RemoteStop clears the partner's typing indicator.
func (c *Coordinator) RemoteStop(partner string) {
	if partner == "" {
		return
	}

	c.mu.Lock()
	changed := c.remote[partner]
	delete(c.remote, partner)
	c.mu.Unlock()

	c.sch.Cancel(PurposeRemote, partner)

	if changed && c.onRemote != nil {
		c.onRemote(partner, false)
	}
}

func (c *Coordinator) remoteExpire(partner string) {
	c.mu.Lock()
	changed := c.remote[partner]
	delete(c.remote, partner)
	c.mu.Unlock()

	if changed && c.onRemote != nil {
		c.onRemote(partner, false)
	}
}

// RemoteTyping reports whether the partner is currently shown as typing.
func (c *Coordinator) RemoteTyping(partner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote[partner]
}

// Reset ends all local typing signals (emitting final stops) and clears all
// remote indicators. Used on logout.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	localPartners := make([]string, 0, len(c.local))
	for p := range c.local {
		localPartners = append(localPartners, p)
	}
	remotePartners := make([]string, 0, len(c.remote))
	for p := range c.remote {
		remotePartners = append(remotePartners, p)
	}
	c.local = make(map[string]bool)
	c.remote = make(map[string]bool)
	c.mu.Unlock()

	for _, p := range localPartners {
		c.sch.Cancel(PurposeLocal, p)
		if c.emitStop != nil {
			c.emitStop(p)
		}
	}
	for _, p := range remotePartners {
		c.sch.Cancel(PurposeRemote, p)
		if c.onRemote != nil {
			c.onRemote(p, false)
		}
	}
}
