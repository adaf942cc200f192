// Package relay is the development counterpart of the chat engine: an
// in-memory websocket server speaking the same JSON envelope, used by
// the demo page, integration tests and local development. It is not
// the production chat backend.
package relay

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	"github.com/medigear/supportchat/metrics"
	"github.com/medigear/supportchat/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The relay only ever runs on a developer machine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type chatState struct {
	history   []*wire.Message
	fragments []*wire.Fragment
	announced bool
}

// Hub relays frames between the clients of each chat and keeps the
// per-chat history replayed on join.
type Hub struct {
	mu      sync.Mutex
	chats   map[string]*chatState
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		chats:   make(map[string]*chatState),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("relay: upgrade: %v", err)
		return
	}

	c := &client{
		hub:   h,
		conn:  ws,
		sendC: make(chan []byte, 16),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.RelayConnections.Inc()

	go c.recvLoop()
	go c.sendLoop()
}

// SeedFragments installs server-defined fragments for a chat, the way
// the production backend ties message segments to orders. Replayed on
// admin-join.
func (h *Hub) SeedFragments(chatID string, frags []*wire.Fragment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chat(chatID).fragments = frags
}

func (h *Hub) chat(chatID string) *chatState {
	cs, ok := h.chats[chatID]
	if !ok {
		cs = &chatState{}
		h.chats[chatID] = cs
	}
	return cs
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// broadcast enqueues the frame to every client joined to the chat.
func (h *Hub) broadcast(chatID string, frame []byte) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.chatID == chatID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
		metrics.RelayFrames.Inc()
	}
}

// announce tells operator connections watching other chats that a new
// chat exists.
func (h *Hub) announce(chatID string, msgs []*wire.Message) {
	frame := wire.EncodeNewChat(chatID, msgs)
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.admin && c.chatID != chatID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(frame)
		metrics.RelayFrames.Inc()
	}
}

func (h *Hub) handleJoin(c *client, chatID string, admin bool) {
	h.mu.Lock()
	c.chatID = chatID
	c.admin = admin
	cs := h.chat(chatID)
	history := append([]*wire.Message(nil), cs.history...)
	fragments := append([]*wire.Fragment(nil), cs.fragments...)
	h.mu.Unlock()

	if admin && len(fragments) > 0 {
		c.enqueue(wire.EncodeFragments(fragments))
	}
	c.enqueue(wire.EncodeHistory(history))
}

func (h *Hub) handleMessage(c *client, chatID, senderID, text string) {
	if chatID == "" {
		chatID = c.chatID
	}
	if chatID == "" {
		c.enqueue(wire.EncodeError("message-event before join"))
		return
	}

	m := &wire.Message{
		ID:       newID(),
		ChatID:   chatID,
		SenderID: senderID,
		Text:     text,
		SentAt:   time.Now(),
	}

	h.mu.Lock()
	cs := h.chat(chatID)
	cs.history = append(cs.history, m)
	first := !cs.announced
	cs.announced = true
	h.mu.Unlock()

	h.broadcast(chatID, wire.EncodeMessageEvent(m))
	if first {
		h.announce(chatID, []*wire.Message{m})
	}
}

func (h *Hub) handleRead(c *client, messageID, userID string) {
	h.mu.Lock()
	var chatID string
	for id, cs := range h.chats {
		for _, m := range cs.history {
			if m.ID == messageID {
				m.Read = true
				chatID = id
				break
			}
		}
	}
	h.mu.Unlock()

	if chatID == "" {
		glog.V(5).Infof("relay: receipt for unknown message %s", messageID)
		return
	}
	h.broadcast(chatID, wire.EncodeReadReceipt(messageID, userID, chatID))
}

func newID() string {
	return strings.ReplaceAll(uuid.New(), "-", "")
}
