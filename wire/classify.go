package wire

import (
	"bytes"
	"encoding/json"
)

// Frame is the decoded form of one inbound socket frame. Exactly one
// field is set, like a oneof: handlers switch on the populated field.
type Frame struct {
	// Raw carries a synthetic message wrapping a payload that is not
	// structured data. No frame is silently dropped.
	Raw *Message

	// History is a bulk load of plain message records.
	History []Message

	// Fragments is a bulk load of fragment records.
	Fragments []Fragment

	NewChat *NewChat
	Message *Message
	Receipt *Receipt

	// Fault is the text of a server error event.
	Fault string

	// Ignored names an unknown event discriminator or an
	// unclassifiable structured payload. Forward compatible: logged
	// by the caller, never fatal.
	Ignored string
}

// Kind names the populated variant, for logs and metrics labels.
func (f *Frame) Kind() string {
	switch {
	case f.Raw != nil:
		return "raw"
	case f.Fragments != nil:
		return "fragments"
	case f.History != nil:
		return "history"
	case f.NewChat != nil:
		return "new-chat"
	case f.Message != nil:
		return "message-event"
	case f.Receipt != nil:
		return "mark-as-read"
	case f.Fault != "":
		return "error"
	}
	return "ignored"
}

// probeRecord is used to duck-type the elements of a bare array before
// committing to a full decode.
type probeRecord struct {
	ID      *string `json:"id"`
	Color   *string `json:"color"`
	Message *string `json:"message"`
	Text    *string `json:"text"`
}

// Classify decodes one inbound frame. It is total over arbitrary
// bytes: anything that is not a JSON array or object degrades to a
// synthetic raw-text message.
//
// Order of classification:
//  1. not structured data -> Raw
//  2. array of records with id and color -> Fragments
//  3. array of records with message/text and no color -> History
//  4. object with a known event discriminator -> that event
//  5. anything else -> Ignored
func Classify(raw []byte) Frame {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return rawFrame(raw)
	}
	switch trimmed[0] {
	case '[':
		return classifyArray(trimmed, raw)
	case '{':
		return classifyObject(trimmed, raw)
	default:
		return rawFrame(raw)
	}
}

func rawFrame(raw []byte) Frame {
	return Frame{Raw: &Message{Text: string(raw), Synthetic: true}}
}

func classifyArray(data, raw []byte) Frame {
	var probes []probeRecord
	if err := json.Unmarshal(data, &probes); err != nil {
		// Parses as an array but not of records; treat the whole
		// frame as opaque text.
		return rawFrame(raw)
	}

	fragmentish := len(probes) > 0
	messageish := true
	for _, p := range probes {
		if p.ID == nil || p.Color == nil {
			fragmentish = false
		}
		if p.Color != nil || (p.Message == nil && p.Text == nil) {
			messageish = false
		}
	}

	if fragmentish {
		var payloads []fragmentPayload
		if err := json.Unmarshal(data, &payloads); err != nil {
			return Frame{Ignored: "malformed fragment bulk"}
		}
		frags := make([]Fragment, 0, len(payloads))
		for _, fp := range payloads {
			f := Fragment{ID: fp.ID, Color: fp.Color}
			for i := range fp.Messages {
				m := fromPayload(&fp.Messages[i])
				m.FragmentID = fp.ID
				f.Messages = append(f.Messages, m)
			}
			frags = append(frags, f)
		}
		return Frame{Fragments: frags}
	}

	if messageish {
		var payloads []messagePayload
		if err := json.Unmarshal(data, &payloads); err != nil {
			return Frame{Ignored: "malformed history bulk"}
		}
		msgs := make([]Message, 0, len(payloads))
		for i := range payloads {
			msgs = append(msgs, fromPayload(&payloads[i]))
		}
		return Frame{History: msgs}
	}

	return Frame{Ignored: "unclassifiable array"}
}

func classifyObject(data, raw []byte) Frame {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return rawFrame(raw)
	}

	switch env.Event {
	case EventNewChat:
		var p newChatPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Frame{Ignored: "malformed new-chat"}
		}
		nc := &NewChat{ChatID: p.ID}
		for i := range p.Messages {
			nc.Messages = append(nc.Messages, fromPayload(&p.Messages[i]))
		}
		return Frame{NewChat: nc}

	case EventMessage:
		var p messagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Frame{Ignored: "malformed message-event"}
		}
		m := fromPayload(&p)
		return Frame{Message: &m}

	case EventMarkAsRead:
		var p receiptPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Frame{Ignored: "malformed mark-as-read"}
		}
		return Frame{Receipt: &Receipt{
			MessageID: p.MessageID,
			ReaderID:  p.UserID,
			ChatID:    p.ChatID,
		}}

	case EventError:
		var msg string
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			msg = string(env.Data)
		}
		return Frame{Fault: msg}

	case "":
		// An object without a discriminator is opaque text, same as
		// any other unstructured payload.
		return rawFrame(raw)

	default:
		return Frame{Ignored: env.Event}
	}
}
