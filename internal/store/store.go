// Package store holds the in-memory view of each conversation's message
// history: an ordered, deduplicated collection per conversation id.
//
// All mutating operations are designed for an at-least-once, possibly
// out-of-order transport: duplicate appends are no-ops, status updates are
// monotonic, and the unsent flag is sticky. Protocol inconsistencies are
// absorbed silently (boolean results, no errors) because they are expected
// under replay.
package store

import "sync"

// Store is the per-conversation message store.
type Store struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

type conversation struct {
	order []string            // message ids in arrival order
	byID  map[string]*Message // message id -> message
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		convs: make(map[string]*conversation),
	}
}

func newConversation() *conversation {
	return &conversation{
		order: make([]string, 0, 64),
		byID:  make(map[string]*Message),
	}
}

// Append inserts msg into the conversation in arrival order.
// It reports false if a message with the same id already exists, in which
// case the call is a no-op. This guards against duplicate delivery.
func (s *Store) Append(conversationID string, msg Message) bool {
	if conversationID == "" || msg.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		c = newConversation()
		s.convs[conversationID] = c
	}

	if _, ok := c.byID[msg.ID]; ok {
		return false
	}

	m := msg
	c.byID[m.ID] = &m
	c.order = append(c.order, m.ID)
	return true
}

// UpdateStatus advances the status of a message monotonically along
// sent -> delivered -> read. A regression or an unknown message id is
// rejected silently (returns false).
func (s *Store) UpdateStatus(conversationID, messageID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false
	}
	return advanceStatus(c, messageID, status)
}

// UpdateStatusByID is UpdateStatus for events that carry no conversation id:
// it scans all conversations for the message. The client-side working set is
// small enough that the scan is not a concern.
func (s *Store) UpdateStatusByID(messageID string, status Status) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.convs {
		if _, ok := c.byID[messageID]; ok {
			return id, advanceStatus(c, messageID, status)
		}
	}
	return "", false
}

func advanceStatus(c *conversation, messageID string, status Status) bool {
	m, ok := c.byID[messageID]
	if !ok {
		return false
	}
	if status <= m.Status {
		return false
	}
	m.Status = status
	return true
}

// MarkUnsent sets the unsent flag on a message. Irreversible: rendering must
// substitute the placeholder for the original text from then on.
func (s *Store) MarkUnsent(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false
	}
	return markUnsent(c, messageID)
}

// MarkUnsentByID is MarkUnsent for events that carry no conversation id.
func (s *Store) MarkUnsentByID(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.convs {
		if _, ok := c.byID[messageID]; ok {
			return id, markUnsent(c, messageID)
		}
	}
	return "", false
}

func markUnsent(c *conversation, messageID string) bool {
	m, ok := c.byID[messageID]
	if !ok || m.Unsent {
		return false
	}
	m.Unsent = true
	return true
}

// ReplaceAll replaces the conversation's sequence wholesale, preserving the
// given order and deduplicating by id. Used when (re)loading history from
// the collaborator endpoint on conversation switch.
func (s *Store) ReplaceAll(conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}

	c := newConversation()
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if _, ok := c.byID[msg.ID]; ok {
			continue
		}
		m := msg
		c.byID[m.ID] = &m
		c.order = append(c.order, m.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conversationID] = c
}

// Clear empties the conversation and returns the removed sequence in order,
// so the caller can build an undo snapshot from it.
func (s *Store) Clear(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return nil
	}
	removed := snapshot(c)
	delete(s.convs, conversationID)
	return removed
}

// Restore re-inserts a previously removed sequence, preserving original
// order and ids. Messages whose ids are already present are skipped.
func (s *Store) Restore(conversationID string, msgs []Message) {
	if conversationID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		c = newConversation()
		s.convs[conversationID] = c
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if _, ok := c.byID[msg.ID]; ok {
			continue
		}
		m := msg
		c.byID[m.ID] = &m
		c.order = append(c.order, m.ID)
	}
}

// Messages returns a copy of the conversation's messages in order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return nil
	}
	return snapshot(c)
}

// Last returns the most recently appended message of a conversation.
func (s *Store) Last(conversationID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil || len(c.order) == 0 {
		return Message{}, false
	}
	return *c.byID[c.order[len(c.order)-1]], true
}

// Len returns the number of messages in a conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return 0
	}
	return len(c.order)
}

func snapshot(c *conversation) []Message {
	out := make([]Message, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}
