// Package timeline keeps the message records of the active chat and
// derives the render-time views over them: sorted order, visual
// clusters, fragment sections.
package timeline

import (
	"sort"

	"github.com/medigear/supportchat/wire"
)

// Store holds the messages of one chat in arrival order and serves
// them sorted by send time. Sorting is stable, so messages with equal
// timestamps keep their arrival order.
type Store struct {
	msgs []*wire.Message
	byID map[string]*wire.Message
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*wire.Message)}
}

func (s *Store) Append(m *wire.Message) {
	s.msgs = append(s.msgs, m)
	if m.ID != "" {
		s.byID[m.ID] = m
	}
}

func (s *Store) Get(id string) (*wire.Message, bool) {
	m, ok := s.byID[id]
	return m, ok
}

func (s *Store) Len() int {
	return len(s.msgs)
}

// All returns the messages sorted by send time ascending. The sorted
// view is recomputed on every call, so late-arriving history slots in
// correctly between live messages.
func (s *Store) All() []*wire.Message {
	out := make([]*wire.Message, len(s.msgs))
	copy(out, s.msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// Adopt upgrades a locally composed message to its server echo: the
// first id-less message matching chat, sender and text receives the
// server id and timestamp. Returns the upgraded message, or nil when
// no provisional message matches.
func (s *Store) Adopt(echo *wire.Message) *wire.Message {
	for _, m := range s.msgs {
		if m.ID != "" || m.ChatID != echo.ChatID || m.SenderID != echo.SenderID || m.Text != echo.Text {
			continue
		}
		m.ID = echo.ID
		if !echo.SentAt.IsZero() {
			m.SentAt = echo.SentAt
		}
		m.Read = m.Read || echo.Read
		s.byID[m.ID] = m
		return m
	}
	return nil
}
