package engine

import "time"

// NoticeLevel classifies a transient user-visible notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Listener receives store-changed notifications for the rendering layer.
//
// Callbacks run on whatever goroutine produced the change (transport read
// loop, timer, or the caller of a local action) and must not block.
// Rendering itself is out of scope; a UI adapter implements this.
type Listener interface {
	// ConversationChanged fires when a conversation's messages changed.
	ConversationChanged(conversationID string)
	// RosterChanged fires when the roster cache was updated.
	RosterChanged()
	// TypingChanged fires when a partner's typing indicator toggled.
	TypingChanged(partner string, typing bool)
	// UndoWindowOpened fires when a clear was acknowledged and a bounded
	// undo window began.
	UndoWindowOpened(conversationID string, deadline time.Time)
	// UndoWindowClosed fires when the window ended, by restore or expiry.
	UndoWindowClosed(conversationID string)
	// Notice surfaces a transient, non-blocking user-visible notice.
	Notice(level NoticeLevel, text string)
}

// NopListener discards all notifications.
type NopListener struct{}

func (NopListener) ConversationChanged(string)            {}
func (NopListener) RosterChanged()                        {}
func (NopListener) TypingChanged(string, bool)            {}
func (NopListener) UndoWindowOpened(string, time.Time)    {}
func (NopListener) UndoWindowClosed(string)               {}
func (NopListener) Notice(NoticeLevel, string)            {}
