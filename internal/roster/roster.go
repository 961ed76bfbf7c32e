// Package roster maintains the aggregated, sorted view of all conversations
// the user participates in.
//
// The roster is a display cache over the server-side aggregation endpoint,
// refreshed eagerly rather than computed from local state, because the local
// message store may not hold the full multi-conversation history at all
// times. It is recomputed (pull-based) on login, message events, presence
// events and conversation activation.
package roster

import (
	"sort"
	"sync"
	"time"
)

// Entry is one conversation summary: partner, preview, unread, presence.
// Derived entirely from the aggregation endpoint plus presence; never
// independently mutated except for the active-conversation unread reset.
type Entry struct {
	Username    string    `json:"username"`
	LastMessage string    `json:"lastMessage"`
	LastAt      time.Time `json:"lastMessageAt"`
	Unread      int       `json:"unreadCount"`
	Online      bool      `json:"online"`
}

// Roster is the cached, sorted conversation list.
//
// Refreshes run concurrently with user actions, so each refresh is sequenced
// by a monotonic request counter: Begin allocates a sequence number before
// the fetch, Apply discards the response if a newer refresh has begun since.
// A stale response can therefore never overwrite newer data.
type Roster struct {
	mu      sync.Mutex
	entries []Entry
	seq     uint64
	applied uint64

	// active is the partner whose conversation is open. Its unread count is
	// pinned to zero across refreshes, because the aggregation endpoint lags
	// behind the activation.
	active string

	onChange func()
}

// New constructs an empty Roster. onChange, if non-nil, is invoked after
// every accepted update (outside the roster lock).
func New(onChange func()) *Roster {
	return &Roster{onChange: onChange}
}

// Begin allocates a sequence number for a refresh about to start.
func (r *Roster) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

// Apply installs a fetched entry set if seq is still the newest refresh.
// It reports whether the entries were accepted.
func (r *Roster) Apply(seq uint64, entries []Entry) bool {
	r.mu.Lock()

	if seq != r.seq || seq <= r.applied {
		r.mu.Unlock()
		return false
	}
	r.applied = seq

	sorted := append([]Entry(nil), entries...)
	// Descending by last-message timestamp; endpoint order is kept for ties.
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LastAt.After(sorted[j].LastAt)
	})
	for i := range sorted {
		if sorted[i].Username == r.active {
			sorted[i].Unread = 0
		}
	}
	r.entries = sorted

	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return true
}

// MarkActive records partner as the open conversation and resets its unread
// count. Unread counts reflect messages received while the conversation was
// not active, so activating a conversation zeroes its counter immediately
// and keeps it zero until the partner changes, even if a refresh brings a
// stale nonzero count from the endpoint.
func (r *Roster) MarkActive(partner string) {
	r.mu.Lock()

	r.active = partner
	changed := false
	for i := range r.entries {
		if r.entries[i].Username == partner && r.entries[i].Unread != 0 {
			r.entries[i].Unread = 0
			changed = true
		}
	}

	onChange := r.onChange
	r.mu.Unlock()

	if changed && onChange != nil {
		onChange()
	}
}

// Entries returns a copy of the current sorted entries.
func (r *Roster) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Reset drops all cached entries and the active-partner pin (logout).
func (r *Roster) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.active = ""
}
