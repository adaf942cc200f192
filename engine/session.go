// Package engine is the chat synchronization core shared by the
// customer widget and the operator console. One Session turns the
// unordered, possibly duplicated socket stream into a stable grouped
// timeline, and tracks rooms, unread counts and read receipts.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/medigear/supportchat/dedup"
	"github.com/medigear/supportchat/identity"
	"github.com/medigear/supportchat/metrics"
	"github.com/medigear/supportchat/rooms"
	"github.com/medigear/supportchat/timeline"
	"github.com/medigear/supportchat/wire"
)

// Role selects the small capability differences between the two hosts
// of the shared engine: the operator console keeps a room registry and
// joins with admin-join.
type Role int

const (
	RoleCustomer Role = iota
	RoleOperator
)

// Sender is the outbound half of the connection. Satisfied by
// *conn.Manager; tests substitute a mock.
type Sender interface {
	Send(frame []byte) error
}

// ViewState is the lifecycle of the open chat view. Ready is
// re-entered on every appended message; Error is terminal until the
// user reopens the chat.
type ViewState int

const (
	ViewIdle ViewState = iota
	ViewLoading
	ViewReady
	ViewError
)

var ErrNoOpenChat = errors.New("engine: no open chat")

type Config struct {
	Role Role

	// ClusterGap overrides timeline.DefaultClusterGap when positive.
	ClusterGap time.Duration

	// Now is replaceable in tests.
	Now func() time.Time
}

// Session is the controller of one mounted chat session. It
// exclusively owns its stores; all mutation goes through Dispatch and
// the public methods, serialized by the internal mutex.
type Session struct {
	mu sync.Mutex

	cfg    Config
	sender Sender
	self   identity.Resolver

	guard *dedup.Guard
	store *timeline.Store
	frags *timeline.FragmentIndex
	rooms *rooms.Registry

	openChat string
	// historyTag is the chat id active when the last join was sent.
	// A bulk load whose tag no longer matches the open chat is a
	// stale response and is discarded, not an error.
	historyTag string
	view       ViewState

	acked map[string]struct{}
}

func NewSession(cfg Config, sender Sender, self identity.Resolver) *Session {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg:    cfg,
		sender: sender,
		self:   self,
		guard:  dedup.NewGuard(),
		store:  timeline.NewStore(),
		frags:  timeline.NewFragmentIndex(),
		rooms:  rooms.NewRegistry(),
		acked:  make(map[string]struct{}),
	}
}

func (s *Session) View() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) OpenChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openChat
}

// Rooms lists the operator's rooms by recency.
func (s *Session) Rooms() []*rooms.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.List()
}

func (s *Session) Room(chatID string) (*rooms.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms.Get(chatID)
}

// Messages returns every record of the open chat sorted by send time,
// including synthetic raw-text entries. A malformed frame degrades to
// a visible raw-text message, it is never dropped.
func (s *Session) Messages() []*wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.All()
}

// Timeline returns the bubble-rendered messages of the open chat
// sorted by send time, with their cluster flags. Both are derived
// fresh on each call, so late-arriving history regroups correctly.
func (s *Session) Timeline() ([]*wire.Message, []timeline.ClusterFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := timeline.Visible(s.store.All())
	return msgs, timeline.Cluster(msgs, s.cfg.ClusterGap)
}

// Fragments returns the fragment ids of the open chat in arrival
// order; Ungrouped the trailing section of unclaimed messages.
func (s *Session) Fragments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frags.Fragments()
}

func (s *Session) FragmentMessages(fragmentID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frags.MessagesOf(fragmentID)
}

func (s *Session) FragmentColor(fragmentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frags.Color(fragmentID)
}

func (s *Session) Ungrouped() []*wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frags.Ungrouped(timeline.Visible(s.store.All()))
}

// Mine reports whether the local participant sent the message. Derived
// from the current identity on every call, never stored: when the
// operator's agent id resolves late, roles correct themselves on the
// next render.
func (s *Session) Mine(m *wire.Message) bool {
	id, err := s.self.Resolve()
	return err == nil && id.Value == m.SenderID
}

// OpenChat makes chatID the active chat: resets the per-chat state,
// clears its unread counter and requests history (and fragments) by
// joining. A send failure leaves the view in Error; the user reopens
// the chat to retry.
func (s *Session) OpenChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.openChat = chatID
	s.historyTag = ""
	s.view = ViewLoading
	s.guard = dedup.NewGuard()
	s.store = timeline.NewStore()
	s.frags = timeline.NewFragmentIndex()
	s.acked = make(map[string]struct{})
	s.rooms.ClearUnread(chatID)

	join := wire.Join(chatID)
	if s.cfg.Role == RoleOperator {
		join = wire.AdminJoin(chatID)
	}
	if err := s.sender.Send(join); err != nil {
		s.view = ViewError
		return err
	}
	s.historyTag = chatID
	return nil
}

// SendText sends a chat message and appends it locally under a
// provisional dedup key. The caller keeps the text in the input field
// when an error comes back.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openChat == "" {
		return ErrNoOpenChat
	}
	id, err := s.self.Resolve()
	if err != nil {
		// Missing collaborator data blocks sending; surfaced as a
		// "not connected" state by the host.
		return err
	}
	if err := s.sender.Send(wire.SendMessage(s.openChat, id.Value, text)); err != nil {
		return err
	}

	m := &wire.Message{
		ChatID:   s.openChat,
		SenderID: id.Value,
		Text:     text,
		SentAt:   s.cfg.Now(),
	}
	if s.guard.Admit(dedup.KeyOf(m)) {
		s.store.Append(m)
	}
	return nil
}

// Dispatch applies one raw inbound frame. Total over arbitrary input;
// nothing here may take the host page down.
func (s *Session) Dispatch(raw []byte) {
	f := wire.Classify(raw)
	metrics.FramesClassified.WithLabelValues(f.Kind()).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case f.Raw != nil:
		s.applyRaw(f.Raw)
	case f.Fragments != nil:
		s.applyFragments(f.Fragments)
	case f.History != nil:
		s.applyHistory(f.History)
	case f.NewChat != nil:
		s.applyNewChat(f.NewChat)
	case f.Message != nil:
		s.applyMessage(f.Message)
	case f.Receipt != nil:
		s.applyReceipt(f.Receipt)
	case f.Fault != "":
		glog.Errorf("chat server error: %s", f.Fault)
		if s.view == ViewLoading {
			s.view = ViewError
		}
	default:
		glog.V(5).Infof("ignoring frame: %s", f.Ignored)
	}
}

// ConnectionLost is called by the host when the socket reports an
// error or closes. A pending history request will never answer, so a
// loading view becomes Error; a ready view stays as it is and the
// visibility-driven reconnect takes over.
func (s *Session) ConnectionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view == ViewLoading {
		s.view = ViewError
	}
}

// IdentityResolved is called by the host once a pending identity
// delivers, e.g. the operator's agent id loaded. Messages that arrived
// in the window before that were handled without knowing which side
// sent them; this pass re-runs read-receipt emission over the open
// chat now that self is known. Role flags themselves need no fixup,
// they are derived per render.
func (s *Session) IdentityResolved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.store.All() {
		s.maybeAck(m)
	}
}

func (s *Session) stale(tagged string) bool {
	return s.historyTag == "" || s.historyTag != s.openChat || tagged != s.openChat
}

func (s *Session) applyRaw(m *wire.Message) {
	m.ChatID = s.openChat
	m.SentAt = s.cfg.Now()
	if s.guard.Admit(dedup.KeyOf(m)) {
		s.store.Append(m)
	}
}

func (s *Session) applyHistory(msgs []wire.Message) {
	// Bulk records carry no chat id; they belong to the join sent for
	// the currently tagged chat.
	if s.stale(s.openChat) {
		glog.V(5).Infof("dropping stale history bulk (%d messages)", len(msgs))
		return
	}
	for i := range msgs {
		s.admit(&msgs[i])
	}
	s.view = ViewReady
}

func (s *Session) applyFragments(frags []wire.Fragment) {
	if s.stale(s.openChat) {
		glog.V(5).Infof("dropping stale fragment bulk (%d fragments)", len(frags))
		return
	}
	s.frags.Reset()
	for i := range frags {
		fr := &frags[i]
		var ids []string
		for j := range fr.Messages {
			m := s.admit(&fr.Messages[j])
			if m != nil && m.ID != "" {
				ids = append(ids, m.ID)
			}
		}
		s.frags.Assign(fr.ID, fr.Color, ids)
	}
	s.view = ViewReady
}

func (s *Session) applyNewChat(nc *wire.NewChat) {
	if !s.guard.Admit(dedup.EventKey(nc.ChatID, wire.EventNewChat)) {
		metrics.DedupSuppressed.Inc()
		return
	}

	unread := len(nc.Messages)
	if unread == 0 {
		unread = 1
	}
	var last *wire.Message
	for i := range nc.Messages {
		m := &nc.Messages[i]
		if m.ChatID == "" {
			m.ChatID = nc.ChatID
		}
		if last == nil || !m.SentAt.Before(last.SentAt) {
			last = m
		}
		if m.ChatID == s.openChat {
			s.admit(m)
		}
	}
	s.rooms.Upsert(nc.ChatID, last, unread)
}

func (s *Session) applyMessage(m *wire.Message) {
	if m.ChatID == "" {
		m.ChatID = s.openChat
	}
	key := dedup.KeyOf(m)
	if s.guard.Seen(key) {
		metrics.DedupSuppressed.Inc()
		return
	}
	s.guard.Mark(key)

	if m.ChatID != s.openChat {
		// Addressed to a room that is not open: bookkeeping only.
		if s.cfg.Role == RoleOperator {
			s.rooms.BumpUnread(m.ChatID)
			s.rooms.Touch(m.ChatID, m)
		}
		return
	}

	if s.cfg.Role == RoleOperator {
		s.rooms.Touch(m.ChatID, m)
	}

	// The echo of a locally composed message upgrades the provisional
	// record instead of appending a duplicate. The provisional key
	// stays marked so a re-delivery of the id-less form is still a
	// no-op.
	if m.ID != "" && s.Mine(m) {
		if adopted := s.store.Adopt(m); adopted != nil {
			return
		}
	}

	s.store.Append(m)
	s.maybeAck(m)
}

func (s *Session) applyReceipt(r *wire.Receipt) {
	chatID := r.ChatID
	if m, ok := s.store.Get(r.MessageID); ok {
		m.Read = true
		if chatID == "" {
			chatID = m.ChatID
		}
	}
	if chatID != "" {
		s.rooms.ClearUnread(chatID)
	}
}
