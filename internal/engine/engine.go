// Package engine is the synchronization core: the single point of truth for
// merging local intent with server-confirmed reality.
//
// Local user actions (send, unsend, clear, restore, typing) emit outbound
// protocol events; mutating actions are confirmation-driven, never
// optimistic, so there is no partial local state to roll back when a call
// fails. Inbound events are merged idempotently: duplicate appends, unknown
// ids and out-of-order status regressions are absorbed as silent no-ops,
// because they are expected under at-least-once, possibly reordered
// delivery.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/api"
	"chatlink/internal/ids"
	"chatlink/internal/metrics"
	"chatlink/internal/roster"
	"chatlink/internal/sched"
	"chatlink/internal/session"
	"chatlink/internal/store"
	"chatlink/internal/typing"
	"chatlink/internal/undo"
)

// Emitter sends outbound envelopes. Fire-and-forget: a false return means
// the transport dropped the envelope (queue full or disconnected); the user
// is free to retry manually.
type Emitter interface {
	Emit(env v1.Envelope) bool
}

// Backend is the subset of collaborator endpoints the engine consumes.
// Implemented by *api.Client.
type Backend interface {
	FetchHistory(ctx context.Context, conversationID string) ([]store.Message, error)
	FetchRoster(ctx context.Context, username string) ([]roster.Entry, error)
	SearchUsers(ctx context.Context, query, currentUser string) ([]api.UserSummary, error)
}

// nopEmitter drops every envelope, the way a disconnected transport does.
type nopEmitter struct{}

func (nopEmitter) Emit(v1.Envelope) bool { return false }

// nopBackend answers every endpoint with an empty result.
type nopBackend struct{}

func (nopBackend) FetchHistory(context.Context, string) ([]store.Message, error) { return nil, nil }
func (nopBackend) FetchRoster(context.Context, string) ([]roster.Entry, error)   { return nil, nil }
func (nopBackend) SearchUsers(context.Context, string, string) ([]api.UserSummary, error) {
	return nil, nil
}

// Options configures an Engine. Every field may be left nil: unset fields
// fall back to no-op implementations, so a partially wired engine degrades
// to dropped emissions and empty fetches rather than panicking.
type Options struct {
	Log       *slog.Logger
	Scheduler sched.Scheduler
	Emitter   Emitter
	Backend   Backend
	Archive   store.Archive
	Listener  Listener
	Metrics   *metrics.Metrics

	// TypingInactivity is the keystroke quiescence window (default 3s).
	TypingInactivity time.Duration
	// UndoWindow is the clear countdown length (default 5s).
	UndoWindow time.Duration
}

// Engine orchestrates session, store, roster, typing and undo state.
type Engine struct {
	log *slog.Logger

	sess   *session.Session
	store  *store.Store
	roster *roster.Roster
	typing *typing.Coordinator
	undo   *undo.Coordinator

	sch      sched.Scheduler
	emitter  Emitter
	backend  Backend
	archive  store.Archive
	listener Listener
	met      *metrics.Metrics

	// histMu sequences history loads so a stale response can never
	// overwrite a newer conversation's view.
	histMu  sync.Mutex
	histSeq uint64

	// spawn runs asynchronous follow-ups (fetches, archive writes).
	// Tests replace it with a synchronous runner.
	spawn func(func())
	now   func() time.Time
}

// New constructs a fully wired Engine.
func New(opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	sch := opts.Scheduler
	if sch == nil {
		sch = sched.NewTimerScheduler()
	}
	listener := opts.Listener
	if listener == nil {
		listener = NopListener{}
	}
	archive := opts.Archive
	if archive == nil {
		archive = store.NopArchive{}
	}
	met := opts.Metrics
	if met == nil {
		met = metrics.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = nopEmitter{}
	}
	backend := opts.Backend
	if backend == nil {
		backend = nopBackend{}
	}

	e := &Engine{
		log:      log,
		sess:     session.New(),
		store:    store.New(),
		sch:      sch,
		emitter:  emitter,
		backend:  backend,
		archive:  archive,
		listener: listener,
		met:      met,
		spawn:    func(fn func()) { go fn() },
		now:      func() time.Time { return time.Now().UTC() },
	}

	e.roster = roster.New(listener.RosterChanged)

	e.typing = typing.New(sch, opts.TypingInactivity,
		func(partner string) { e.emitTyping(v1.KindTypingStart, partner) },
		func(partner string) { e.emitTyping(v1.KindTypingStop, partner) },
		listener.TypingChanged,
	)

	e.undo = undo.New(sch, opts.UndoWindow, e.undoExpired)

	return e
}

// Session exposes the session context (for UI adapters and tests).
func (e *Engine) Session() *session.Session { return e.sess }

// Store exposes the message store (for UI adapters and tests).
func (e *Engine) Store() *store.Store { return e.store }

// RosterEntries returns the current roster cache.
func (e *Engine) RosterEntries() []roster.Entry { return e.roster.Entries() }

// PendingUndo returns the live undo snapshot, if any.
func (e *Engine) PendingUndo() (undo.Snapshot, bool) { return e.undo.Pending() }

// ---- lifecycle ----

// Authenticate binds the engine to a freshly authenticated identity,
// announces presence and warms the roster cache.
func (e *Engine) Authenticate(id session.Identity) {
	e.sess.Authenticate(id)
	e.log.Info("engine.authenticated", "username", id.Username)

	e.emit(v1.KindUserOnline, v1.UserOnlinePayload{Username: id.Username})
	e.refreshRoster()
}

// Logout tears down all conversation-scoped state: final typing stops are
// emitted, timers are cancelled, the undo slot and roster cache are dropped.
func (e *Engine) Logout() {
	e.typing.Reset()
	e.undo.Reset()
	e.sch.CancelAll()
	e.roster.Reset()
	e.sess.Logout()
	e.log.Info("engine.logout")
}

// HandleConnect re-announces presence after every transport (re)connect so
// the server's presence table is not left stale after an interruption.
// No local state is torn down on disconnect.
func (e *Engine) HandleConnect() {
	user, ok := e.sess.User()
	if !ok {
		return
	}
	e.log.Info("engine.reannounce", "username", user.Username)
	e.emit(v1.KindUserOnline, v1.UserOnlinePayload{Username: user.Username})
}

// SelectConversation makes partner the active conversation: the previous
// partner's typing timer is cancelled with a final stop, the last-sent slot
// is cleared, unread resets, and history is (re)loaded.
func (e *Engine) SelectConversation(partner string) error {
	partner = strings.TrimSpace(partner)

	user, ok := e.sess.User()
	if !ok {
		e.notice(NoticeError, "You must log in before starting a chat")
		return session.ErrNoActiveSession
	}

	if prev, ok := e.sess.Partner(); ok && prev != partner {
		e.typing.SwitchAway(prev)
	}

	if err := e.sess.SelectConversation(partner); err != nil {
		e.notice(NoticeError, "Select a user to chat with")
		return err
	}

	e.roster.MarkActive(partner)

	convID := store.ConversationID(user.Username, partner)
	e.loadHistory(convID, partner)
	e.refreshRoster()

	e.log.Info("engine.conversation.select", "partner", partner, "conversation_id", convID)
	return nil
}

// ---- async fetches ----

// loadHistory replaces the conversation's view with the collaborator
// endpoint's history. Responses are sequenced: a slow response for an
// earlier selection is discarded rather than applied over newer data.
func (e *Engine) loadHistory(conversationID, partner string) {
	e.histMu.Lock()
	e.histSeq++
	seq := e.histSeq
	e.histMu.Unlock()

	e.spawn(func() {
		msgs, err := e.backend.FetchHistory(context.Background(), conversationID)
		if err != nil {
			e.log.Info("engine.history.fail", "conversation_id", conversationID, "err", err)
			e.notice(NoticeError, "Could not load messages. Please try again.")
			return
		}

		e.histMu.Lock()
		stale := seq != e.histSeq
		e.histMu.Unlock()
		if stale {
			e.log.Debug("engine.history.stale", "conversation_id", conversationID)
			return
		}
		if cur, ok := e.sess.Partner(); !ok || cur != partner {
			return
		}

		e.store.ReplaceAll(conversationID, msgs)
		e.listener.ConversationChanged(conversationID)
	})
}

// refreshRoster re-pulls the aggregated roster. The roster cache discards
// stale responses by sequence number.
func (e *Engine) refreshRoster() {
	user, ok := e.sess.User()
	if !ok {
		return
	}

	seq := e.roster.Begin()
	e.spawn(func() {
		entries, err := e.backend.FetchRoster(context.Background(), user.Username)
		if err != nil {
			e.log.Info("engine.roster.fail", "err", err)
			return
		}
		e.roster.Apply(seq, entries)
	})
}

// ---- helpers ----

func (e *Engine) emit(kind string, payload any) bool {
	b, err := json.Marshal(payload)
	if err != nil {
		e.log.Error("engine.emit.encode", "kind", kind, "err", err)
		return false
	}

	now := e.now()
	id, err := ids.NewULID(now)
	if err != nil {
		e.log.Error("engine.emit.id", "kind", kind, "err", err)
		return false
	}

	return e.emitter.Emit(v1.Envelope{
		V:       v1.Version,
		Type:    kind,
		ID:      id,
		TS:      now,
		Payload: b,
	})
}

func (e *Engine) emitTyping(kind, partner string) {
	user, ok := e.sess.User()
	if !ok {
		return
	}
	e.emit(kind, v1.TypingPayload{From: user.Username, To: partner})
}

func (e *Engine) notice(level NoticeLevel, text string) {
	e.met.Notices.WithLabelValues(string(level)).Inc()
	e.listener.Notice(level, text)
}

func (e *Engine) undoExpired(snap undo.Snapshot) {
	e.met.TimerExpiries.WithLabelValues(string(undo.PurposeExpiry)).Inc()
	e.log.Info("engine.undo.expired", "conversation_id", snap.ConversationID)
	e.listener.UndoWindowClosed(snap.ConversationID)

	// The clear is now permanent from this client's perspective; the
	// authoritative delete is the server's responsibility.
	e.spawn(func() {
		if err := e.archive.PurgeConversation(context.Background(), snap.ConversationID); err != nil {
			e.log.Info("engine.archive.purge.fail", "err", err)
		}
	})
}
