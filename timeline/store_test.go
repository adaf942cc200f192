package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/medigear/supportchat/wire"
)

func at(minute, second int) time.Time {
	return time.Date(2024, 1, 1, 10, minute, second, 0, time.UTC)
}

func msg(id, sender string, sent time.Time) *wire.Message {
	return &wire.Message{ID: id, ChatID: "c1", SenderID: sender, Text: "t-" + id, SentAt: sent}
}

func TestAllSortedByTimestamp(t *testing.T) {
	s := NewStore()
	// Arrival order deliberately scrambled: late history after live
	// events.
	s.Append(msg("m3", "u1", at(5, 0)))
	s.Append(msg("m1", "u1", at(0, 0)))
	s.Append(msg("m4", "u2", at(7, 0)))
	s.Append(msg("m2", "u2", at(2, 0)))

	var ids []string
	for _, m := range s.All() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids)
	assert.Equal(t, 4, s.Len())
}

func TestEqualTimestampsKeepArrivalOrder(t *testing.T) {
	s := NewStore()
	s.Append(msg("a", "u1", at(0, 0)))
	s.Append(msg("b", "u1", at(0, 0)))
	s.Append(msg("c", "u1", at(0, 0)))

	all := s.All()
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
}

func TestGet(t *testing.T) {
	s := NewStore()
	s.Append(msg("m1", "u1", at(0, 0)))

	m, ok := s.Get("m1")
	assert.True(t, ok)
	assert.Equal(t, "m1", m.ID)

	_, ok = s.Get("nope")
	assert.False(t, ok)
}

func TestAdoptUpgradesProvisionalMessage(t *testing.T) {
	s := NewStore()
	local := &wire.Message{ChatID: "c1", SenderID: "me", Text: "hello", SentAt: at(0, 0)}
	s.Append(local)

	echo := &wire.Message{ID: "m9", ChatID: "c1", SenderID: "me", Text: "hello", SentAt: at(0, 2)}
	adopted := s.Adopt(echo)

	assert.NotNil(t, adopted)
	assert.Same(t, local, adopted)
	assert.Equal(t, "m9", local.ID)
	assert.True(t, at(0, 2).Equal(local.SentAt))
	assert.Equal(t, 1, s.Len())

	got, ok := s.Get("m9")
	assert.True(t, ok)
	assert.Same(t, local, got)
}

func TestAdoptIgnoresNonMatching(t *testing.T) {
	s := NewStore()
	s.Append(msg("m1", "me", at(0, 0)))

	// Already has an id.
	assert.Nil(t, s.Adopt(&wire.Message{ID: "m2", ChatID: "c1", SenderID: "me", Text: "t-m1"}))
	// Different text.
	s.Append(&wire.Message{ChatID: "c1", SenderID: "me", Text: "draft", SentAt: at(1, 0)})
	assert.Nil(t, s.Adopt(&wire.Message{ID: "m3", ChatID: "c1", SenderID: "me", Text: "other"}))
}
