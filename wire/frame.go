package wire

import "encoding/json"

// Event discriminators of the socket envelope.
const (
	EventJoin       = "join"
	EventAdminJoin  = "admin-join"
	EventMessage    = "message-event"
	EventNewChat    = "new-chat"
	EventMarkAsRead = "mark-as-read"
	EventError      = "error"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	ChatID string `json:"chat_id"`
}

type messagePayload struct {
	ID         string `json:"id,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	Message    string `json:"message,omitempty"`
	Text       string `json:"text,omitempty"`
	TimeToSend string `json:"time_to_send,omitempty"`
	ReadStatus *bool  `json:"read_status,omitempty"`
}

type fragmentPayload struct {
	ID       string           `json:"id"`
	Color    string           `json:"color"`
	Messages []messagePayload `json:"messages,omitempty"`
}

type newChatPayload struct {
	ID       string           `json:"id"`
	Messages []messagePayload `json:"messages,omitempty"`
}

type receiptPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id,omitempty"`
}

func marshalEnvelope(event string, data interface{}) []byte {
	raw, _ := json.Marshal(data)
	out, _ := json.Marshal(&envelope{Event: event, Data: raw})
	return out
}

// Join builds the customer join frame for a chat.
func Join(chatID string) []byte {
	return marshalEnvelope(EventJoin, &joinPayload{ChatID: chatID})
}

// AdminJoin builds the operator join frame for a chat.
func AdminJoin(chatID string) []byte {
	return marshalEnvelope(EventAdminJoin, &joinPayload{ChatID: chatID})
}

// SendMessage builds an outbound chat message frame.
func SendMessage(chatID, senderID, text string) []byte {
	return marshalEnvelope(EventMessage, &messagePayload{
		ChatID:   chatID,
		SenderID: senderID,
		Message:  text,
	})
}

// MarkAsRead builds an outbound read receipt frame.
func MarkAsRead(messageID, userID string) []byte {
	return marshalEnvelope(EventMarkAsRead, &receiptPayload{
		MessageID: messageID,
		UserID:    userID,
	})
}

func toPayload(m *Message) messagePayload {
	p := messagePayload{
		ID:         m.ID,
		ChatID:     m.ChatID,
		SenderID:   m.SenderID,
		Message:    m.Text,
		TimeToSend: FormatTime(m.SentAt),
	}
	if m.Read {
		read := true
		p.ReadStatus = &read
	}
	return p
}

func fromPayload(p *messagePayload) Message {
	text := p.Message
	if text == "" {
		text = p.Text
	}
	return Message{
		ID:       p.ID,
		ChatID:   p.ChatID,
		SenderID: p.SenderID,
		Text:     text,
		SentAt:   ParseTime(p.TimeToSend),
		Read:     p.ReadStatus != nil && *p.ReadStatus,
	}
}

// EncodeMessageEvent renders an inbound message-event frame. Used by
// the relay to push messages to peers.
func EncodeMessageEvent(m *Message) []byte {
	return marshalEnvelope(EventMessage, toPayload(m))
}

// EncodeHistory renders a chat history as a bare array of message
// records, the shape replayed on join.
func EncodeHistory(msgs []*Message) []byte {
	payloads := make([]messagePayload, 0, len(msgs))
	for _, m := range msgs {
		payloads = append(payloads, toPayload(m))
	}
	out, _ := json.Marshal(payloads)
	return out
}

// EncodeFragments renders a fragment bulk load as a bare array of
// fragment records.
func EncodeFragments(frags []*Fragment) []byte {
	payloads := make([]fragmentPayload, 0, len(frags))
	for _, f := range frags {
		fp := fragmentPayload{ID: f.ID, Color: f.Color}
		for i := range f.Messages {
			fp.Messages = append(fp.Messages, toPayload(&f.Messages[i]))
		}
		payloads = append(payloads, fp)
	}
	out, _ := json.Marshal(payloads)
	return out
}

// EncodeNewChat renders the operator-side announcement of a chat.
func EncodeNewChat(chatID string, msgs []*Message) []byte {
	p := newChatPayload{ID: chatID}
	for _, m := range msgs {
		p.Messages = append(p.Messages, toPayload(m))
	}
	return marshalEnvelope(EventNewChat, &p)
}

// EncodeReadReceipt renders the server echo of a read receipt.
func EncodeReadReceipt(messageID, userID, chatID string) []byte {
	return marshalEnvelope(EventMarkAsRead, &receiptPayload{
		MessageID: messageID,
		UserID:    userID,
		ChatID:    chatID,
	})
}

// EncodeError renders a server error event.
func EncodeError(msg string) []byte {
	return marshalEnvelope(EventError, msg)
}
