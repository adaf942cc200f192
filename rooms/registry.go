// Package rooms keeps the operator console's view of customer chats:
// unread counters and last-message previews, re-sorted by recency on
// every update.
package rooms

import (
	"sort"

	"github.com/medigear/supportchat/wire"
)

// Room is one customer chat as the operator console sees it.
type Room struct {
	ID          string
	LastMessage *wire.Message
	Unread      int
}

// Registry owns the room records. Not goroutine safe; the owning
// session controller serializes access.
type Registry struct {
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (r *Registry) Get(chatID string) (*Room, bool) {
	room, ok := r.rooms[chatID]
	return room, ok
}

func (r *Registry) Len() int {
	return len(r.rooms)
}

func (r *Registry) room(chatID string) *Room {
	room, ok := r.rooms[chatID]
	if !ok {
		room = &Room{ID: chatID}
		r.rooms[chatID] = room
	}
	return room
}

// Upsert creates or updates a room from a new-chat announcement or a
// fetched room page.
func (r *Registry) Upsert(chatID string, last *wire.Message, unread int) *Room {
	room := r.room(chatID)
	if last != nil {
		room.LastMessage = last
	}
	if unread > room.Unread {
		room.Unread = unread
	}
	return room
}

// Touch updates the last-message preview if the message is at least as
// recent as the current one. Events may arrive out of order.
func (r *Registry) Touch(chatID string, m *wire.Message) {
	room := r.room(chatID)
	if room.LastMessage == nil || !m.SentAt.Before(room.LastMessage.SentAt) {
		room.LastMessage = m
	}
}

// BumpUnread increments the unread counter of a room that is not
// currently open, creating the room on first sight.
func (r *Registry) BumpUnread(chatID string) int {
	room := r.room(chatID)
	room.Unread++
	return room.Unread
}

// ClearUnread resets the counter to zero. Called exactly when the
// operator opens the room, or when the server echoes a read receipt
// for it.
func (r *Registry) ClearUnread(chatID string) {
	if room, ok := r.rooms[chatID]; ok {
		room.Unread = 0
	}
}

// List returns the rooms sorted by last-message recency, newest
// first. Rooms without a message yet sort last; ties break on id so
// the order is deterministic.
func (r *Registry) List() []*Room {
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return a.ID < b.ID
		case a.LastMessage == nil:
			return false
		case b.LastMessage == nil:
			return true
		case !a.LastMessage.SentAt.Equal(b.LastMessage.SentAt):
			return a.LastMessage.SentAt.After(b.LastMessage.SentAt)
		}
		return a.ID < b.ID
	})
	return out
}
