package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/medigear/supportchat/engine/mock"
	"github.com/medigear/supportchat/identity"
	"github.com/medigear/supportchat/wire"
)

func fixedNow() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

// recorder collects every outbound frame, decoded with the same
// classifier the engine uses for inbound ones: the envelope is shared.
func recorder(t *testing.T, ctrl *gomock.Controller) (*mock.MockSender, *[][]byte) {
	sender := mock.NewMockSender(ctrl)
	var sent [][]byte
	sender.EXPECT().Send(gomock.Any()).DoAndReturn(func(frame []byte) error {
		sent = append(sent, frame)
		return nil
	}).AnyTimes()
	return sender, &sent
}

func receipts(sent [][]byte) []*wire.Receipt {
	var out []*wire.Receipt
	for _, frame := range sent {
		if f := wire.Classify(frame); f.Receipt != nil {
			out = append(out, f.Receipt)
		}
	}
	return out
}

func msgFrame(id, chatID, senderID, text, ts string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"message-event","data":{"chat_id":%q,"message":%q,"sender_id":%q,"time_to_send":%q,"id":%q}}`,
		chatID, text, senderID, ts, id))
}

func TestDuplicateFrameAppliedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, sent := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))
	s.Dispatch([]byte(`[]`))
	assert.Equal(t, ViewReady, s.View())

	raw := msgFrame("m1", "c1", "u1", "Hello", "2024-01-01T10:00:00Z")
	s.Dispatch(raw)
	s.Dispatch(raw)

	msgs, _ := s.Timeline()
	assert.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "Hello", msgs[0].Text)

	acks := receipts(*sent)
	assert.Len(t, acks, 1)
	assert.Equal(t, "m1", acks[0].MessageID)
	assert.Equal(t, "me", acks[0].ReaderID)
}

func TestHistoryBeforeJoinIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, _ := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	s.Dispatch([]byte(`[{"id":"m1","message":"hi","sender_id":"u1","time_to_send":"2024-01-01T10:00:00Z"}]`))

	assert.Empty(t, s.Messages())
	assert.Equal(t, ViewIdle, s.View())
}

func TestStaleHistoryAfterFailedJoin(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender := mock.NewMockSender(ctrl)

	var offline bool
	sender.EXPECT().Send(gomock.Any()).DoAndReturn(func([]byte) error {
		if offline {
			return errors.New("not connected")
		}
		return nil
	}).AnyTimes()

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))

	// The user switches chats while c1's history is still in flight,
	// and the join for c2 cannot be sent.
	offline = true
	assert.Error(t, s.OpenChat("c2"))
	assert.Equal(t, ViewError, s.View())

	// c1's response arrives late: it no longer matches the open chat.
	s.Dispatch([]byte(`[{"id":"m1","message":"hi","sender_id":"u1","time_to_send":"2024-01-01T10:00:00Z"}]`))
	assert.Empty(t, s.Messages())
	assert.Equal(t, ViewError, s.View())
}

func TestOperatorRoomBookkeeping(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, sent := recorder(t, ctrl)

	s := NewSession(Config{Role: RoleOperator, Now: fixedNow}, sender, identity.NewStatic("op1", identity.KindAgent))
	assert.NoError(t, s.OpenChat("c1"))
	s.Dispatch([]byte(`[]`))

	newChat := []byte(`{"event":"new-chat","data":{"id":"c9","messages":[
		{"id":"m1","message":"help","sender_id":"u9","time_to_send":"2024-01-01T10:00:00Z"},
		{"id":"m2","message":"please","sender_id":"u9","time_to_send":"2024-01-01T10:00:05Z"}
	]}}`)
	s.Dispatch(newChat)
	s.Dispatch(newChat) // redelivery

	list := s.Rooms()
	assert.Len(t, list, 1)
	room := list[0]
	assert.Equal(t, "c9", room.ID)
	assert.Equal(t, 2, room.Unread)
	assert.Equal(t, "m2", room.LastMessage.ID)

	// A live message for the closed room bumps its counter and stays
	// out of the open timeline.
	s.Dispatch(msgFrame("m5", "c9", "u9", "still there?", "2024-01-01T10:02:00Z"))
	room, ok := s.Room("c9")
	assert.True(t, ok)
	assert.Equal(t, 3, room.Unread)
	msgs, _ := s.Timeline()
	assert.Empty(t, msgs)

	// A message for the open chat lands in the timeline, gets a read
	// receipt, and never bumps the open room.
	s.Dispatch(msgFrame("m6", "c1", "u7", "hi", "2024-01-01T10:03:00Z"))
	msgs, _ = s.Timeline()
	assert.Len(t, msgs, 1)
	room, _ = s.Room("c1")
	assert.Equal(t, 0, room.Unread)

	acks := receipts(*sent)
	assert.Len(t, acks, 1)
	assert.Equal(t, "m6", acks[0].MessageID)

	// The server echo of a receipt clears the closed room's counter.
	s.Dispatch(wire.EncodeReadReceipt("m5", "u9", "c9"))
	room, _ = s.Room("c9")
	assert.Equal(t, 0, room.Unread)
}

func TestSendTextEchoAdoption(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, sent := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))
	s.Dispatch([]byte(`[]`))

	assert.NoError(t, s.SendText("hi there"))
	msgs, _ := s.Timeline()
	assert.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].ID)

	// The server echo carries the assigned id; the provisional record
	// is upgraded, not duplicated, and no receipt fires for our own
	// message.
	s.Dispatch(msgFrame("m9", "c1", "me", "hi there", "2024-01-01T12:00:02Z"))
	msgs, _ = s.Timeline()
	assert.Len(t, msgs, 1)
	assert.Equal(t, "m9", msgs[0].ID)
	assert.Empty(t, receipts(*sent))
}

func TestSendTextRequiresOpenChatAndIdentity(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, _ := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewPending())
	assert.ErrorIs(t, s.SendText("hi"), ErrNoOpenChat)

	assert.NoError(t, s.OpenChat("c1"))
	assert.ErrorIs(t, s.SendText("hi"), identity.ErrUnresolved)
}

func TestPendingIdentityDefersReceipts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, sent := recorder(t, ctrl)

	self := identity.NewPending()
	s := NewSession(Config{Role: RoleOperator, Now: fixedNow}, sender, self)
	assert.NoError(t, s.OpenChat("c1"))

	s.Dispatch([]byte(`[
		{"id":"m1","message":"hello","sender_id":"u1","time_to_send":"2024-01-01T10:00:00Z"},
		{"id":"m2","message":"mine","sender_id":"op1","time_to_send":"2024-01-01T10:00:30Z"}
	]`))
	assert.Empty(t, receipts(*sent))

	// The admin id loads; the deferred receipt pass runs, skipping the
	// operator's own message now that it classifies as such.
	self.Set(identity.ID{Value: "op1", Kind: identity.KindAgent})
	s.IdentityResolved()

	acks := receipts(*sent)
	assert.Len(t, acks, 1)
	assert.Equal(t, "m1", acks[0].MessageID)
	assert.Equal(t, "op1", acks[0].ReaderID)

	// Running the pass again acks nothing new.
	s.IdentityResolved()
	assert.Len(t, receipts(*sent), 1)
}

func TestUnparsableFrameDegradesToRawMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, _ := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))

	assert.NotPanics(t, func() { s.Dispatch([]byte("plain text")) })

	all := s.Messages()
	assert.Len(t, all, 1)
	assert.True(t, all[0].Synthetic)
	assert.Equal(t, "plain text", all[0].Text)

	// Synthetic entries stay out of the clustered bubble timeline.
	msgs, _ := s.Timeline()
	assert.Empty(t, msgs)
}

func TestFragmentBulkLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, sent := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))

	// A live message arrives before the bulk load that claims it.
	s.Dispatch(msgFrame("m1", "c1", "u1", "a", "2024-01-01T10:00:00Z"))

	s.Dispatch([]byte(`[
		{"id":"f1","color":"#e93","messages":[
			{"id":"m1","message":"a","sender_id":"u1","time_to_send":"2024-01-01T10:00:00Z"},
			{"id":"m2","message":"b","sender_id":"u1","time_to_send":"2024-01-01T10:00:10Z"}
		]}
	]`))
	assert.Equal(t, ViewReady, s.View())

	assert.Equal(t, []string{"f1"}, s.Fragments())
	assert.Equal(t, []string{"m1", "m2"}, s.FragmentMessages("f1"))
	assert.Equal(t, "#e93", s.FragmentColor("f1"))

	msgs, _ := s.Timeline()
	assert.Len(t, msgs, 2) // m1 deduplicated across live and bulk
	assert.Empty(t, s.Ungrouped())

	s.Dispatch(msgFrame("m3", "c1", "u1", "c", "2024-01-01T10:05:00Z"))
	rest := s.Ungrouped()
	assert.Len(t, rest, 1)
	assert.Equal(t, "m3", rest[0].ID)

	assert.Len(t, receipts(*sent), 3)
}

func TestConnectionLostWhileLoading(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, _ := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))
	assert.Equal(t, ViewLoading, s.View())

	s.ConnectionLost()
	assert.Equal(t, ViewError, s.View())

	// Once ready, a drop does not degrade the rendered view.
	assert.NoError(t, s.OpenChat("c1"))
	s.Dispatch([]byte(`[]`))
	s.ConnectionLost()
	assert.Equal(t, ViewReady, s.View())
}

func TestServerErrorWhileLoading(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sender, _ := recorder(t, ctrl)

	s := NewSession(Config{Now: fixedNow}, sender, identity.NewStatic("me", identity.KindCustomer))
	assert.NoError(t, s.OpenChat("c1"))
	s.Dispatch(wire.EncodeError("backend restarting"))
	assert.Equal(t, ViewError, s.View())
}
