// Package wire defines the JSON envelope spoken over the support-chat
// socket: outbound frame builders for the client engine, payload
// encoders for the relay, and the classifier that turns an arbitrary
// inbound frame into a tagged union.
package wire

import "time"

// Message is one chat message record.
type Message struct {
	// ID is the server-assigned id. Locally composed messages have no
	// id until the server echo arrives.
	ID         string
	ChatID     string
	SenderID   string
	Text       string
	SentAt     time.Time
	FragmentID string
	Read       bool
	// Synthetic marks a message degraded from an unparsable frame.
	// Synthetic entries never render as chat bubbles.
	Synthetic bool
}

// Fragment is a server-defined colored conversation segment, e.g. the
// messages tied to one order.
type Fragment struct {
	ID       string
	Color    string
	Messages []Message
}

// NewChat announces a customer chat to the operator console.
type NewChat struct {
	ChatID   string
	Messages []Message
}

// Receipt is the server echo of a mark-as-read acknowledgment.
type Receipt struct {
	MessageID string
	ReaderID  string
	ChatID    string
}

// ParseTime parses a wire timestamp. The storefront backend sends
// RFC-3339; a few legacy rows lack the zone suffix. Unparsable input
// yields the zero time, which sorts first.
func ParseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

// FormatTime renders a timestamp the way the backend does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
