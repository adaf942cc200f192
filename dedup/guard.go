// Package dedup makes frame delivery idempotent. Every handler checks
// the guard before mutating state, so retransmissions, tab-refocus
// replays and history-vs-live overlap are no-ops.
package dedup

import "github.com/medigear/supportchat/wire"

// Key identifies one applied message. Messages with a server id are
// keyed by (chat, id); locally composed ones carry a provisional
// (chat, text, send time) key until the server echo assigns an id.
// A typed key avoids the collisions a concatenated string key has
// when ids or chat ids themselves contain the separator.
type Key struct {
	ChatID    string
	MessageID string
	Text      string
	SentAt    int64
}

// KeyOf derives the dedup key for a message.
func KeyOf(m *wire.Message) Key {
	if m.ID != "" {
		return Key{ChatID: m.ChatID, MessageID: m.ID}
	}
	return Key{ChatID: m.ChatID, Text: m.Text, SentAt: m.SentAt.UnixNano()}
}

// EventKey builds a key for non-message events that must be applied
// once per chat, e.g. a new-chat announcement.
func EventKey(chatID, event string) Key {
	return Key{ChatID: chatID, MessageID: event}
}

// Guard is the process-lifetime set of applied keys for one chat
// session. Entries are never removed: a session is bounded in message
// count and discarded on navigation away.
type Guard struct {
	seen map[Key]struct{}
}

func NewGuard() *Guard {
	return &Guard{seen: make(map[Key]struct{})}
}

func (g *Guard) Seen(k Key) bool {
	_, ok := g.seen[k]
	return ok
}

func (g *Guard) Mark(k Key) {
	g.seen[k] = struct{}{}
}

// Admit marks the key and reports whether this was its first
// appearance. Handlers that have no work between Seen and Mark use
// this combined form.
func (g *Guard) Admit(k Key) bool {
	if g.Seen(k) {
		return false
	}
	g.Mark(k)
	return true
}

func (g *Guard) Len() int {
	return len(g.seen)
}
