package engine

import (
	"github.com/golang/glog"

	"github.com/medigear/supportchat/dedup"
	"github.com/medigear/supportchat/metrics"
	"github.com/medigear/supportchat/wire"
)

// admit feeds one bulk-loaded message through the guard into the
// store. It returns the canonical record whether the message was new
// or already present, so fragment membership can still be recorded for
// messages that arrived live before the bulk load.
func (s *Session) admit(m *wire.Message) *wire.Message {
	if m.ChatID == "" {
		m.ChatID = s.openChat
	}
	key := dedup.KeyOf(m)
	if s.guard.Seen(key) {
		metrics.DedupSuppressed.Inc()
		if m.ID != "" {
			if existing, ok := s.store.Get(m.ID); ok {
				return existing
			}
		}
		return m
	}
	s.guard.Mark(key)

	if m.ID != "" && s.Mine(m) {
		if adopted := s.store.Adopt(m); adopted != nil {
			return adopted
		}
	}

	s.store.Append(m)
	s.maybeAck(m)
	return m
}

// maybeAck emits a mark-as-read frame for an inbound, unread message
// of the open chat, once per message. Fire and forget: local read
// state and unread counters only change when the server echoes the
// receipt back.
func (s *Session) maybeAck(m *wire.Message) {
	if m.ID == "" || m.Read || m.Synthetic || m.ChatID != s.openChat {
		return
	}
	if _, done := s.acked[m.ID]; done {
		return
	}
	id, err := s.self.Resolve()
	if err != nil {
		// Identity still pending; IdentityResolved replays this pass.
		return
	}
	if id.Value == m.SenderID {
		return
	}
	if err := s.sender.Send(wire.MarkAsRead(m.ID, id.Value)); err != nil {
		glog.V(5).Infof("read receipt for %s not sent: %v", m.ID, err)
		return
	}
	s.acked[m.ID] = struct{}{}
}
