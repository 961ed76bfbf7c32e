// Package session holds the identity of the locally authenticated user and
// the currently selected conversation partner.
//
// It is an explicit context object with lifecycle "init on authentication
// success / teardown on logout". All conversation-scoped operations in other
// components consult it and must fail with ErrNoActiveSession or
// ErrNoActiveConversation instead of operating on stale identifiers.
package session

import (
	"strings"
	"sync"
)

// Identity is the authenticated user as returned by the login endpoints.
type Identity struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// Session is the root of all conversation-scoped state.
//
// It also owns the single-slot "last sent" pointer used by unsend: only the
// most recently sent message id of this client session may be retracted, and
// the slot is cleared on every conversation switch.
type Session struct {
	mu       sync.Mutex
	user     *Identity
	partner  string
	lastSent string
}

// New constructs an unauthenticated Session.
func New() *Session {
	return &Session{}
}

// Authenticate binds the session to an identity. It replaces any previous
// identity and resets the active conversation and last-sent slot.
func (s *Session) Authenticate(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := id
	s.user = &u
	s.partner = ""
	s.lastSent = ""
}

// Logout clears all session state.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	s.partner = ""
	s.lastSent = ""
}

// User returns the authenticated identity, if any.
func (s *Session) User() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return Identity{}, false
	}
	return *s.user, true
}

// SelectConversation sets the active partner and clears the last-sent slot.
func (s *Session) SelectConversation(partner string) error {
	partner = strings.TrimSpace(partner)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return ErrNoActiveSession
	}
	if partner == "" {
		return ErrNoActiveConversation
	}

	s.partner = partner
	s.lastSent = ""
	return nil
}

// DeselectConversation clears the active partner and the last-sent slot.
func (s *Session) DeselectConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partner = ""
	s.lastSent = ""
}

// Partner returns the active conversation partner, if any.
func (s *Session) Partner() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partner == "" {
		return "", false
	}
	return s.partner, true
}

// SetLastSent records the id of the most recently sent message.
func (s *Session) SetLastSent(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSent = messageID
}

// LastSent returns the id of the most recently sent message, if any.
func (s *Session) LastSent() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSent == "" {
		return "", false
	}
	return s.lastSent, true
}

// ClearLastSentIf clears the last-sent slot when it holds messageID.
// Called when the server confirms the retraction of that message.
func (s *Session) ClearLastSentIf(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSent == messageID {
		s.lastSent = ""
	}
}
