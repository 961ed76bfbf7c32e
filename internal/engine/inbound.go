package engine

import (
	"context"
	"encoding/json"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/store"
)

// HandleEnvelope implements transport.Handler.
func (e *Engine) HandleEnvelope(env v1.Envelope) {
	e.Apply(env)
}

// Apply merges one inbound protocol event into local state. Idempotent with
// respect to replay: duplicates and stale updates are absorbed silently.
func (e *Engine) Apply(env v1.Envelope) {
	if err := env.Validate(); err != nil {
		e.log.Debug("engine.apply.invalid", "err", err)
		return
	}
	e.met.EventsApplied.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case v1.KindNewMessage, v1.KindMessageSent:
		e.applyMessage(env)
	case v1.KindMessageStatus:
		e.applyStatus(env)
	case v1.KindMessageUnsent:
		e.applyUnsent(env)
	case v1.KindChatCleared:
		e.applyCleared(env)
	case v1.KindChatRestored:
		e.applyRestored(env)
	case v1.KindTypingStart:
		var p v1.TypingPayload
		if !e.decode(env, &p) {
			return
		}
		e.typing.RemoteStart(p.From)
	case v1.KindTypingStop:
		var p v1.TypingPayload
		if !e.decode(env, &p) {
			return
		}
		e.typing.RemoteStop(p.From)
	case v1.KindUserStatusChange:
		// Presence only; no message data. Refresh the roster to pick up
		// the new online flags.
		e.refreshRoster()
	default:
		// Outbound-only kinds echoed back; nothing to merge.
		e.log.Debug("engine.apply.ignored", "type", env.Type)
	}
}

// applyMessage handles new-message (recipient leg) and message-sent (sender
// echo). Both append; duplicate delivery is an idempotent no-op.
func (e *Engine) applyMessage(env v1.Envelope) {
	var w v1.WireMessage
	if !e.decode(env, &w) {
		return
	}

	msg := store.FromWire(w)
	conversationID := store.ConversationID(msg.From, msg.To)

	if !e.store.Append(conversationID, msg) {
		e.met.DuplicatesDropped.Inc()
		return
	}

	e.spawn(func() {
		if err := e.archive.RecordMessage(context.Background(), conversationID, msg); err != nil {
			e.log.Info("engine.archive.record.fail", "err", err)
		}
	})

	e.listener.ConversationChanged(conversationID)
	e.refreshRoster()
}

func (e *Engine) applyStatus(env v1.Envelope) {
	var p v1.MessageStatusPayload
	if !e.decode(env, &p) {
		return
	}

	status := store.ParseStatus(p.Status)
	conversationID, ok := e.store.UpdateStatusByID(p.MessageID, status)
	if conversationID == "" {
		// Unknown id: the status raced ahead of the message or refers to a
		// cleared conversation.
		e.met.DuplicatesDropped.Inc()
		return
	}
	if !ok {
		e.met.StatusRegressions.Inc()
		return
	}

	e.spawn(func() {
		if err := e.archive.UpdateStatus(context.Background(), p.MessageID, status); err != nil {
			e.log.Info("engine.archive.status.fail", "err", err)
		}
	})

	e.listener.ConversationChanged(conversationID)
}

func (e *Engine) applyUnsent(env v1.Envelope) {
	var p v1.MessageUnsentPayload
	if !e.decode(env, &p) {
		return
	}

	conversationID, ok := e.store.MarkUnsentByID(p.MessageID)
	if !ok {
		e.met.DuplicatesDropped.Inc()
		return
	}

	e.sess.ClearLastSentIf(p.MessageID)

	e.spawn(func() {
		if err := e.archive.MarkUnsent(context.Background(), p.MessageID); err != nil {
			e.log.Info("engine.archive.unsend.fail", "err", err)
		}
	})

	e.listener.ConversationChanged(conversationID)
	// The roster preview may have shown the retracted text.
	e.refreshRoster()
}

// applyCleared blanks the conversation and opens the undo window. Entered
// only here: a clear is never applied locally before the server
// acknowledges it.
func (e *Engine) applyCleared(env v1.Envelope) {
	var p v1.ChatClearedPayload
	if !e.decode(env, &p) {
		return
	}

	user, ok := e.sess.User()
	if !ok {
		e.log.Debug("engine.apply.cleared.no_session")
		return
	}
	conversationID := store.ConversationID(user.Username, p.ChatUser)

	removed := e.store.Clear(conversationID)

	// The snapshot is built from the server-provided removed set; the
	// locally removed sequence is only a fallback for servers that send an
	// empty acknowledgment.
	msgs := make([]store.Message, 0, len(p.ClearedMessages))
	for _, w := range p.ClearedMessages {
		msgs = append(msgs, store.FromWire(w))
	}
	if len(msgs) == 0 {
		msgs = removed
	}

	snap := e.undo.Begin(conversationID, p.ChatUser, msgs, e.now())

	e.listener.ConversationChanged(conversationID)
	e.listener.UndoWindowOpened(conversationID, snap.Deadline)
	e.refreshRoster()

	e.log.Info("engine.cleared", "conversation_id", conversationID, "messages", len(msgs))
}

// applyRestored reinstates the local snapshot, closes the undo window and,
// when the conversation is active, reloads it from the history endpoint.
// The reload runs even when no snapshot is pending (local countdown already
// expired): the server restored the conversation and its view wins.
func (e *Engine) applyRestored(env v1.Envelope) {
	var p v1.ChatRestoredPayload
	if !e.decode(env, &p) {
		return
	}

	user, ok := e.sess.User()
	if !ok {
		return
	}
	conversationID := store.ConversationID(user.Username, p.ChatUser)

	if snap, ok := e.undo.Resolve(conversationID); ok {
		e.store.Restore(conversationID, snap.Messages)
		e.listener.UndoWindowClosed(conversationID)
	} else {
		e.met.DuplicatesDropped.Inc()
	}

	e.listener.ConversationChanged(conversationID)

	if partner, ok := e.sess.Partner(); ok && partner == p.ChatUser {
		e.loadHistory(conversationID, partner)
	}
	e.refreshRoster()

	e.log.Info("engine.restored", "conversation_id", conversationID)
}

func (e *Engine) decode(env v1.Envelope, out any) bool {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		e.log.Debug("engine.apply.bad_payload", "type", env.Type, "err", err)
		return false
	}
	return true
}
