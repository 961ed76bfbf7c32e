package store

import "strings"

// convIDSeparator joins the two participant ids of a conversation id.
const convIDSeparator = "_"

// ConversationID derives the canonical, order-independent id for the
// conversation between two participants: the two ids sorted lexicographically
// and joined with a fixed separator, so ConversationID(a,b) == ConversationID(b,a).
// This is the sole sharding key for message history.
func ConversationID(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if b < a {
		a, b = b, a
	}
	return a + convIDSeparator + b
}
