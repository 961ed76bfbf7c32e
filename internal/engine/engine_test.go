package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/api"
	"chatlink/internal/roster"
	"chatlink/internal/sched"
	"chatlink/internal/session"
	"chatlink/internal/store"
	"chatlink/internal/typing"
	"chatlink/internal/undo"
)

// ---- fakes ----

type fakeEmitter struct {
	sent []v1.Envelope
}

func (f *fakeEmitter) Emit(env v1.Envelope) bool {
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeEmitter) kinds() []string {
	out := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeEmitter) count(kind string) int {
	n := 0
	for _, env := range f.sent {
		if env.Type == kind {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) lastPayload(t *testing.T, kind string, out any) {
	t.Helper()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == kind {
			if err := json.Unmarshal(f.sent[i].Payload, out); err != nil {
				t.Fatalf("decode %s payload: %v", kind, err)
			}
			return
		}
	}
	t.Fatalf("no %s envelope emitted; got %v", kind, f.kinds())
}

type fakeBackend struct {
	history   func(conversationID string) ([]store.Message, error)
	roster    []roster.Entry
	rosterErr error
	search    []api.UserSummary
	searchErr error

	historyCalls []string
	rosterCalls  int
}

func (f *fakeBackend) FetchHistory(_ context.Context, conversationID string) ([]store.Message, error) {
	f.historyCalls = append(f.historyCalls, conversationID)
	if f.history != nil {
		return f.history(conversationID)
	}
	return nil, nil
}

func (f *fakeBackend) FetchRoster(_ context.Context, _ string) ([]roster.Entry, error) {
	f.rosterCalls++
	return f.roster, f.rosterErr
}

func (f *fakeBackend) SearchUsers(_ context.Context, _, _ string) ([]api.UserSummary, error) {
	return f.search, f.searchErr
}

type recListener struct {
	convChanges []string
	rosterCalls int
	typingOn    map[string]bool
	undoOpened  []string
	undoClosed  []string
	notices     []string
}

func newRecListener() *recListener {
	return &recListener{typingOn: make(map[string]bool)}
}

func (l *recListener) ConversationChanged(id string)         { l.convChanges = append(l.convChanges, id) }
func (l *recListener) RosterChanged()                        { l.rosterCalls++ }
func (l *recListener) TypingChanged(p string, typing bool)   { l.typingOn[p] = typing }
func (l *recListener) UndoWindowOpened(id string, _ time.Time) {
	l.undoOpened = append(l.undoOpened, id)
}
func (l *recListener) UndoWindowClosed(id string) { l.undoClosed = append(l.undoClosed, id) }
func (l *recListener) Notice(level NoticeLevel, text string) {
	l.notices = append(l.notices, string(level)+": "+text)
}

// ---- harness ----

type harness struct {
	eng *Engine
	sch *sched.Manual
	em  *fakeEmitter
	be  *fakeBackend
	lis *recListener
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		sch: sched.NewManual(),
		em:  &fakeEmitter{},
		be:  &fakeBackend{},
		lis: newRecListener(),
	}

	h.eng = New(Options{
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Scheduler: h.sch,
		Emitter:   h.em,
		Backend:   h.be,
		Listener:  h.lis,
	})
	h.eng.spawn = func(fn func()) { fn() }
	h.eng.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	h.eng.Authenticate(session.Identity{Username: "alice", UserID: "u1"})
}

func (h *harness) apply(t *testing.T, kind string, payload any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", kind, err)
	}
	h.eng.Apply(v1.Envelope{
		V:       v1.Version,
		Type:    kind,
		ID:      "evt-" + kind,
		TS:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: b,
	})
}

func wire(id, from, to, text string) v1.WireMessage {
	return v1.WireMessage{
		MessageID: id,
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:    v1.StatusSent,
	}
}

// ---- lifecycle ----

func TestAuthenticate_AnnouncesPresence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.be.roster = []roster.Entry{{Username: "bob"}}
	h.login(t)

	if h.em.count(v1.KindUserOnline) != 1 {
		t.Fatalf("emitted kinds = %v, want one user-online", h.em.kinds())
	}
	var p v1.UserOnlinePayload
	h.em.lastPayload(t, v1.KindUserOnline, &p)
	if p.Username != "alice" {
		t.Fatalf("user-online for %q", p.Username)
	}

	entries := h.eng.RosterEntries()
	if len(entries) != 1 || entries[0].Username != "bob" {
		t.Fatalf("roster not warmed: %v", entries)
	}
}

func TestHandleConnect_ReannouncesPresence(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// Before login a reconnect announces nothing.
	h.eng.HandleConnect()
	if h.em.count(v1.KindUserOnline) != 0 {
		t.Fatalf("presence announced without a session")
	}

	h.login(t)
	h.eng.HandleConnect()
	if h.em.count(v1.KindUserOnline) != 2 {
		t.Fatalf("user-online count = %d, want 2", h.em.count(v1.KindUserOnline))
	}
}

func TestSelectConversation_LoadsHistoryAndResetsUnread(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.be.history = func(string) ([]store.Message, error) {
		return []store.Message{
			store.FromWire(wire("m1", "alice", "bob", "old one")),
			store.FromWire(wire("m2", "bob", "alice", "old two")),
		}, nil
	}
	h.be.roster = []roster.Entry{{Username: "bob", Unread: 3}}
	h.login(t)

	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	conv, ok := h.eng.ActiveConversationID()
	if !ok || conv != "alice_bob" {
		t.Fatalf("ActiveConversationID = (%q, %v)", conv, ok)
	}
	if got := h.eng.Store().Len(conv); got != 2 {
		t.Fatalf("history not loaded: len = %d", got)
	}
	if len(h.be.historyCalls) != 1 || h.be.historyCalls[0] != "alice_bob" {
		t.Fatalf("history calls = %v", h.be.historyCalls)
	}

	// The post-select roster refresh still reports bob's messages as
	// unread; opening the conversation keeps the count at zero anyway.
	entries := h.eng.RosterEntries()
	if len(entries) != 1 || entries[0].Unread != 0 {
		t.Fatalf("unread after select = %v, want 0", entries)
	}
}

func TestDeselectConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	// Without an active conversation this is a no-op.
	h.eng.DeselectConversation()

	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	h.eng.Keystroke()

	h.eng.DeselectConversation()

	if h.em.count(v1.KindTypingStop) != 1 {
		t.Fatalf("typing-stop count = %d, want 1", h.em.count(v1.KindTypingStop))
	}
	if _, ok := h.eng.ActiveConversationID(); ok {
		t.Fatalf("conversation survived deselect")
	}
	if _, err := h.eng.Send("hi"); !errors.Is(err, session.ErrNoActiveConversation) {
		t.Fatalf("send after deselect: %v", err)
	}
}

func TestSelectConversation_RequiresLogin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	err := h.eng.SelectConversation("bob")
	if !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("err = %v", err)
	}
	if len(h.lis.notices) != 1 || h.lis.notices[0] != "error: You must log in before starting a chat" {
		t.Fatalf("notices = %v", h.lis.notices)
	}
}

func TestLogout_TearsDownConversationState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	h.eng.Keystroke()
	h.apply(t, v1.KindChatCleared, v1.ChatClearedPayload{
		ChatUser:        "bob",
		ClearedMessages: []v1.WireMessage{wire("m1", "alice", "bob", "x")},
	})

	h.eng.Logout()

	// The burst in progress ends with a final typing-stop.
	if h.em.count(v1.KindTypingStop) != 1 {
		t.Fatalf("typing-stop count = %d, want 1", h.em.count(v1.KindTypingStop))
	}
	if _, ok := h.eng.PendingUndo(); ok {
		t.Fatalf("undo snapshot survived logout")
	}
	if _, ok := h.eng.Session().User(); ok {
		t.Fatalf("session survived logout")
	}
	if len(h.eng.RosterEntries()) != 0 {
		t.Fatalf("roster survived logout")
	}
	if _, ok := h.sch.Armed(undo.PurposeExpiry, "alice_bob"); ok {
		t.Fatalf("undo countdown survived logout")
	}
}

// ---- sending ----

func TestSend_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	if _, err := h.eng.Send("hi"); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("send without session: %v", err)
	}

	h.login(t)
	if _, err := h.eng.Send("hi"); !errors.Is(err, session.ErrNoActiveConversation) {
		t.Fatalf("send without conversation: %v", err)
	}

	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if _, err := h.eng.Send("   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("send blank text: %v", err)
	}

	if h.em.count(v1.KindSendMessage) != 0 {
		t.Fatalf("rejected sends still emitted: %v", h.em.kinds())
	}
}

func TestSend_EmitsAndEchoAppendsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	id, err := h.eng.Send("hello bob")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id == "" {
		t.Fatalf("Send returned empty message id")
	}

	var p v1.SendMessagePayload
	h.em.lastPayload(t, v1.KindSendMessage, &p)
	if p.From != "alice" || p.To != "bob" || p.Text != "hello bob" || p.MessageID != id {
		t.Fatalf("send-message payload = %+v", p)
	}

	// Nothing local until the echo arrives.
	if got := h.eng.Store().Len("alice_bob"); got != 0 {
		t.Fatalf("optimistic append: len = %d", got)
	}

	echo := wire(id, "alice", "bob", "hello bob")
	h.apply(t, v1.KindMessageSent, echo)
	h.apply(t, v1.KindMessageSent, echo) // duplicate delivery

	if got := h.eng.Store().Len("alice_bob"); got != 1 {
		t.Fatalf("after duplicate echo: len = %d, want 1", got)
	}

	last, ok := h.eng.Session().LastSent()
	if !ok || last != id {
		t.Fatalf("LastSent = (%q, %v)", last, ok)
	}
}

func TestStatus_ConvergesUnderReordering(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.apply(t, v1.KindNewMessage, wire("m1", "bob", "alice", "hi"))

	// Read arrives before the late delivered.
	h.apply(t, v1.KindMessageStatus, v1.MessageStatusPayload{MessageID: "m1", Status: v1.StatusRead})
	h.apply(t, v1.KindMessageStatus, v1.MessageStatusPayload{MessageID: "m1", Status: v1.StatusDelivered})

	msgs := h.eng.Store().Messages("alice_bob")
	if len(msgs) != 1 || msgs[0].Status != store.StatusRead {
		t.Fatalf("status = %v, want read", msgs)
	}

	// A status for an unknown id is absorbed.
	h.apply(t, v1.KindMessageStatus, v1.MessageStatusPayload{MessageID: "ghost", Status: v1.StatusRead})
}

// ---- unsend ----

func TestUnsend_Flow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	if err := h.eng.Unsend(); !errors.Is(err, ErrNothingToUnsend) {
		t.Fatalf("unsend with empty slot: %v", err)
	}

	id, err := h.eng.Send("oops")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.apply(t, v1.KindMessageSent, wire(id, "alice", "bob", "oops"))

	if err := h.eng.Unsend(); err != nil {
		t.Fatalf("Unsend: %v", err)
	}
	var p v1.UnsendMessagePayload
	h.em.lastPayload(t, v1.KindUnsendMessage, &p)
	if p.MessageID != id || p.From != "alice" || p.To != "bob" {
		t.Fatalf("unsend-message payload = %+v", p)
	}

	// The store flips only on the confirmation.
	if h.eng.Store().Messages("alice_bob")[0].Unsent {
		t.Fatalf("optimistic unsend")
	}

	h.apply(t, v1.KindMessageUnsent, v1.MessageUnsentPayload{MessageID: id})

	got := h.eng.Store().Messages("alice_bob")[0]
	if !got.Unsent || got.DisplayText() != store.UnsentPlaceholder {
		t.Fatalf("message after confirmation = %+v", got)
	}

	// The slot is consumed; a second unsend has nothing to target.
	if err := h.eng.Unsend(); !errors.Is(err, ErrNothingToUnsend) {
		t.Fatalf("second unsend: %v", err)
	}
}

// ---- clear / restore ----

func TestClearRestore_RoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.apply(t, v1.KindNewMessage, wire("m1", "bob", "alice", "one"))
	h.apply(t, v1.KindNewMessage, wire("m2", "bob", "alice", "two"))

	h.apply(t, v1.KindChatCleared, v1.ChatClearedPayload{
		ChatUser: "bob",
		ClearedMessages: []v1.WireMessage{
			wire("m1", "bob", "alice", "one"),
			wire("m2", "bob", "alice", "two"),
		},
	})

	if got := h.eng.Store().Len("alice_bob"); got != 0 {
		t.Fatalf("store not cleared: len = %d", got)
	}
	if len(h.lis.undoOpened) != 1 || h.lis.undoOpened[0] != "alice_bob" {
		t.Fatalf("undoOpened = %v", h.lis.undoOpened)
	}
	snap, ok := h.eng.PendingUndo()
	if !ok || len(snap.Messages) != 2 {
		t.Fatalf("PendingUndo = (%d msgs, %v)", len(snap.Messages), ok)
	}

	if err := h.eng.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var p v1.RestoreChatPayload
	h.em.lastPayload(t, v1.KindRestoreChat, &p)
	if p.ChatUser != "bob" || len(p.ClearedMessages) != 2 {
		t.Fatalf("restore-chat payload = %+v", p)
	}

	h.apply(t, v1.KindChatRestored, v1.ChatRestoredPayload{ChatUser: "bob"})

	msgs := h.eng.Store().Messages("alice_bob")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("round trip lost messages: %v", msgs)
	}
	if msgs[0].Text != "one" || msgs[1].Text != "two" {
		t.Fatalf("round trip lost text: %v", msgs)
	}
	if len(h.lis.undoClosed) != 1 {
		t.Fatalf("undoClosed = %v", h.lis.undoClosed)
	}
	if _, ok := h.eng.PendingUndo(); ok {
		t.Fatalf("snapshot survived restore")
	}
}

func TestClear_EmptyAckFallsBackToLocalRemoval(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.apply(t, v1.KindNewMessage, wire("m1", "bob", "alice", "one"))
	h.apply(t, v1.KindChatCleared, v1.ChatClearedPayload{ChatUser: "bob"})

	snap, ok := h.eng.PendingUndo()
	if !ok || len(snap.Messages) != 1 || snap.Messages[0].ID != "m1" {
		t.Fatalf("fallback snapshot = (%+v, %v)", snap, ok)
	}
}

func TestClearExpiry_MakesClearPermanent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.apply(t, v1.KindNewMessage, wire("m1", "bob", "alice", "one"))
	h.apply(t, v1.KindChatCleared, v1.ChatClearedPayload{
		ChatUser:        "bob",
		ClearedMessages: []v1.WireMessage{wire("m1", "bob", "alice", "one")},
	})

	if !h.sch.Fire(undo.PurposeExpiry, "alice_bob") {
		t.Fatalf("countdown not armed")
	}

	if len(h.lis.undoClosed) != 1 || h.lis.undoClosed[0] != "alice_bob" {
		t.Fatalf("undoClosed = %v", h.lis.undoClosed)
	}
	if err := h.eng.Restore(); !errors.Is(err, ErrNoPendingSnapshot) {
		t.Fatalf("restore after expiry: %v", err)
	}

	// With no snapshot and no open conversation a late chat-restored has
	// nothing to reinstate and nothing to reload.
	h.apply(t, v1.KindChatRestored, v1.ChatRestoredPayload{ChatUser: "bob"})
	if got := h.eng.Store().Len("alice_bob"); got != 0 {
		t.Fatalf("late restore resurrected messages: len = %d", got)
	}
	if len(h.be.historyCalls) != 0 {
		t.Fatalf("history calls = %v, want none", h.be.historyCalls)
	}
}

func TestLateRestore_ReloadsActiveConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	serverView := []store.Message{store.FromWire(wire("m1", "bob", "alice", "one"))}
	h.be.history = func(string) ([]store.Message, error) { return serverView, nil }
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	h.apply(t, v1.KindChatCleared, v1.ChatClearedPayload{
		ChatUser:        "bob",
		ClearedMessages: []v1.WireMessage{wire("m1", "bob", "alice", "one")},
	})
	if !h.sch.Fire(undo.PurposeExpiry, "alice_bob") {
		t.Fatalf("countdown not armed")
	}

	// The server restored the conversation after the local countdown ran
	// out. The conversation is open, so its view is refetched: the server
	// decides, not the expired snapshot.
	h.apply(t, v1.KindChatRestored, v1.ChatRestoredPayload{ChatUser: "bob"})

	if len(h.be.historyCalls) != 2 {
		t.Fatalf("history calls = %v, want a reload", h.be.historyCalls)
	}
	msgs := h.eng.Store().Messages("alice_bob")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("store after late restore = %v, want server view", msgs)
	}
}

func TestClear_RequestEmitsOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	h.apply(t, v1.KindNewMessage, wire("m1", "bob", "alice", "one"))

	if err := h.eng.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	var p v1.ClearChatPayload
	h.em.lastPayload(t, v1.KindClearChat, &p)
	if p.Username != "alice" || p.ChatUser != "bob" {
		t.Fatalf("clear-chat payload = %+v", p)
	}

	// Unacknowledged: nothing removed, no window.
	if got := h.eng.Store().Len("alice_bob"); got != 1 {
		t.Fatalf("optimistic clear: len = %d", got)
	}
	if _, ok := h.eng.PendingUndo(); ok {
		t.Fatalf("undo window opened without acknowledgment")
	}
}

// ---- typing ----

func TestTyping_LocalLifecycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	h.eng.Keystroke()
	h.eng.Keystroke()
	h.eng.Keystroke()

	if h.em.count(v1.KindTypingStart) != 1 {
		t.Fatalf("typing-start count = %d, want 1", h.em.count(v1.KindTypingStart))
	}

	if !h.sch.Fire(typing.PurposeLocal, "bob") {
		t.Fatalf("inactivity timer not armed")
	}
	if h.em.count(v1.KindTypingStop) != 1 {
		t.Fatalf("typing-stop count = %d, want 1", h.em.count(v1.KindTypingStop))
	}
}

func TestTyping_SendEndsBurst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	h.eng.Keystroke()
	if _, err := h.eng.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if h.em.count(v1.KindTypingStop) != 1 {
		t.Fatalf("typing-stop count = %d, want 1", h.em.count(v1.KindTypingStop))
	}
	if _, ok := h.sch.Armed(typing.PurposeLocal, "bob"); ok {
		t.Fatalf("inactivity timer survived send")
	}
}

func TestTyping_SwitchEndsBurstForPreviousPartner(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	if err := h.eng.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	h.eng.Keystroke()
	if err := h.eng.SelectConversation("carol"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}

	if h.em.count(v1.KindTypingStop) != 1 {
		t.Fatalf("typing-stop count = %d, want 1", h.em.count(v1.KindTypingStop))
	}
	var p v1.TypingPayload
	h.em.lastPayload(t, v1.KindTypingStop, &p)
	if p.To != "bob" {
		t.Fatalf("typing-stop aimed at %q, want bob", p.To)
	}
}

func TestTyping_RemoteIndicator(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.apply(t, v1.KindTypingStart, v1.TypingPayload{From: "bob"})
	if !h.lis.typingOn["bob"] {
		t.Fatalf("indicator not shown")
	}

	h.apply(t, v1.KindTypingStop, v1.TypingPayload{From: "bob"})
	if h.lis.typingOn["bob"] {
		t.Fatalf("indicator not cleared")
	}

	// Lost typing-stop: the expiry timer clears the indicator.
	h.apply(t, v1.KindTypingStart, v1.TypingPayload{From: "bob"})
	if !h.sch.Fire(typing.PurposeRemote, "bob") {
		t.Fatalf("remote expiry not armed")
	}
	if h.lis.typingOn["bob"] {
		t.Fatalf("indicator survived expiry")
	}
}

// ---- roster / presence ----

func TestUserStatusChange_RefreshesRoster(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.be.roster = []roster.Entry{{Username: "bob", Online: true}}
	h.apply(t, v1.KindUserStatusChange, v1.UserStatusChangePayload{})

	entries := h.eng.RosterEntries()
	if len(entries) != 1 || !entries[0].Online {
		t.Fatalf("roster = %v", entries)
	}
}

// ---- search ----

func TestSearchUsers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	if _, err := h.eng.SearchUsers(context.Background(), "bo"); !errors.Is(err, session.ErrNoActiveSession) {
		t.Fatalf("search without session: %v", err)
	}

	h.login(t)
	if _, err := h.eng.SearchUsers(context.Background(), "  "); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("blank query: %v", err)
	}

	h.be.search = []api.UserSummary{{Username: "bob", UserID: "u2"}}
	got, err := h.eng.SearchUsers(context.Background(), "bo")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(got) != 1 || got[0].Username != "bob" {
		t.Fatalf("results = %v", got)
	}

	h.be.search = nil
	h.be.searchErr = errors.New("boom")
	if _, err := h.eng.SearchUsers(context.Background(), "bo"); err == nil {
		t.Fatalf("backend failure not surfaced")
	}
	last := h.lis.notices[len(h.lis.notices)-1]
	if last != "error: Search failed. Please try again." {
		t.Fatalf("notice = %q", last)
	}
}

// ---- construction ----

func TestNew_ZeroOptions(t *testing.T) {
	t.Parallel()

	// An engine with nothing wired must still be safe to drive: emissions
	// are dropped and fetches come back empty.
	e := New(Options{Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	e.spawn = func(fn func()) { fn() }

	e.Authenticate(session.Identity{Username: "alice", UserID: "u1"})
	if err := e.SelectConversation("bob"); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	e.Keystroke()
	if _, err := e.Send("hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := e.SearchUsers(context.Background(), "bo"); err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	e.Logout()
}

// ---- invalid input ----

func TestApply_IgnoresInvalidEnvelopes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	h.eng.Apply(v1.Envelope{V: "v9", Type: v1.KindNewMessage, ID: "x", TS: time.Now()})
	h.eng.Apply(v1.Envelope{V: v1.Version, Type: "mystery", ID: "x", TS: time.Now()})

	// Malformed payload for a known kind.
	h.eng.Apply(v1.Envelope{
		V:       v1.Version,
		Type:    v1.KindNewMessage,
		ID:      "x",
		TS:      time.Now(),
		Payload: json.RawMessage(`"not an object"`),
	})

	if got := h.eng.Store().Len("alice_bob"); got != 0 {
		t.Fatalf("invalid envelopes mutated the store")
	}
}
