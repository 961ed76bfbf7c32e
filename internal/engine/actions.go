package engine

import (
	"context"
	"strings"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/api"
	"chatlink/internal/ids"
	"chatlink/internal/session"
	"chatlink/internal/store"
)

// Send emits a send-message event for the active conversation and returns
// the client-generated message id.
//
// Nothing is appended locally: the message enters the store only when the
// server echoes it back (message-sent), so there is never a provisional
// entry for the echo to collide with.
func (e *Engine) Send(text string) (string, error) {
	text = strings.TrimSpace(text)

	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in before sending messages")
		return "", session.ErrNoActiveSession
	}
	partner, ok := e.sess.Partner()
	if !ok || text == "" {
		e.notice(NoticeError, "Please enter a message and select a recipient")
		if !ok {
			return "", session.ErrNoActiveConversation
		}
		return "", ErrEmptyText
	}

	messageID, err := ids.NewULID(e.now())
	if err != nil {
		e.notice(NoticeError, "Message could not be sent. Please try again.")
		return "", err
	}

	e.emit(v1.KindSendMessage, v1.SendMessagePayload{
		From:      user.Username,
		To:        partner,
		Text:      text,
		MessageID: messageID,
	})

	e.sess.SetLastSent(messageID)
	e.typing.MessageSent(partner)

	e.log.Debug("engine.send", "message_id", messageID, "to", partner)
	return messageID, nil
}

// Unsend requests retraction of the most recently sent message of this
// client session. The store is mutated only on the server's message-unsent
// confirmation, never optimistically: only the server can authorize the
// mutation of a message possibly already delivered.
func (e *Engine) Unsend() error {
	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in first")
		return session.ErrNoActiveSession
	}
	partner, ok := e.sess.Partner()
	if !ok {
		e.notice(NoticeError, "Select a conversation first")
		return session.ErrNoActiveConversation
	}
	messageID, ok := e.sess.LastSent()
	if !ok {
		e.notice(NoticeError, "No recent message to unsend")
		return ErrNothingToUnsend
	}

	e.emit(v1.KindUnsendMessage, v1.UnsendMessagePayload{
		MessageID: messageID,
		From:      user.Username,
		To:        partner,
	})

	e.log.Debug("engine.unsend", "message_id", messageID)
	return nil
}

// Clear requests clearing of the active conversation. The local view is
// blanked only on the chat-cleared acknowledgment, which also carries the
// removed set the undo snapshot is built from.
func (e *Engine) Clear() error {
	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in first")
		return session.ErrNoActiveSession
	}
	partner, ok := e.sess.Partner()
	if !ok {
		e.notice(NoticeError, "Select a conversation first")
		return session.ErrNoActiveConversation
	}

	e.emit(v1.KindClearChat, v1.ClearChatPayload{
		Username: user.Username,
		ChatUser: partner,
	})

	e.log.Debug("engine.clear.request", "partner", partner)
	return nil
}

// Restore sends the pending undo snapshot back for reinstatement. The
// snapshot is destroyed and history reloaded on the chat-restored
// acknowledgment, not here.
func (e *Engine) Restore() error {
	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in first")
		return session.ErrNoActiveSession
	}
	snap, ok := e.undo.Pending()
	if !ok {
		e.notice(NoticeError, "Nothing to restore")
		return ErrNoPendingSnapshot
	}

	cleared := make([]v1.WireMessage, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		cleared = append(cleared, m.ToWire())
	}

	e.emit(v1.KindRestoreChat, v1.RestoreChatPayload{
		Username:        user.Username,
		ChatUser:        snap.Partner,
		ClearedMessages: cleared,
	})

	e.log.Debug("engine.restore.request", "conversation_id", snap.ConversationID)
	return nil
}

// Keystroke registers typing activity in the active conversation. A no-op
// without a session and active partner; the key that triggers a send goes
// through Send, not here.
func (e *Engine) Keystroke() {
	if _, ok := e.sess.User(); !ok {
		return
	}
	partner, ok := e.sess.Partner()
	if !ok {
		return
	}
	e.typing.Keystroke(partner)
}

// SearchUsers queries the collaborator search endpoint, excluding the
// current user from results.
func (e *Engine) SearchUsers(ctx context.Context, query string) ([]api.UserSummary, error) {
	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in first")
		return nil, session.ErrNoActiveSession
	}
	if strings.TrimSpace(query) == "" {
		e.notice(NoticeError, "Please enter a search term")
		return nil, ErrEmptyQuery
	}

	results, err := e.backend.SearchUsers(ctx, query, user.Username)
	if err != nil {
		e.log.Info("engine.search.fail", "err", err)
		e.notice(NoticeError, "Search failed. Please try again.")
		return nil, err
	}
	return results, nil
}

// DeselectConversation leaves the active conversation: any typing burst
// toward the partner ends with a final typing-stop, and the partner plus
// last-sent slot are cleared.
func (e *Engine) DeselectConversation() {
	partner, ok := e.sess.Partner()
	if !ok {
		return
	}
	e.typing.SwitchAway(partner)
	e.sess.DeselectConversation()
	e.log.Debug("engine.conversation.deselect", "partner", partner)
}

// ActiveConversationID returns the conversation id of the active
// conversation, if one is selected.
func (e *Engine) ActiveConversationID() (string, bool) {
	user, ok := e.sess.User()
	if !ok {
		return "", false
	}
	partner, ok := e.sess.Partner()
	if !ok {
		return "", false
	}
	return store.ConversationID(user.Username, partner), true
}
