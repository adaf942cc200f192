package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/medigear/supportchat/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 4096
)

// client is one relay-side websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	sendC chan []byte

	mu      sync.Mutex
	closing bool

	chatID string
	admin  bool
}

type clientEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type clientJoin struct {
	ChatID string `json:"chat_id"`
}

type clientMessage struct {
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id"`
	Message  string `json:"message"`
}

type clientRead struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	select {
	case c.sendC <- frame:
	default:
		glog.Errorf("relay: send queue full, dropping client")
		c.closeLocked()
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *client) closeLocked() {
	if c.closing {
		return
	}
	c.closing = true
	close(c.sendC)
	c.hub.drop(c)
}

func (c *client) recvLoop() {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("relay: read: %v", err)
			return
		}
		if msgType != websocket.TextMessage {
			c.enqueue(wire.EncodeError("only text frames are supported"))
			continue
		}

		var env clientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.enqueue(wire.EncodeError("malformed frame"))
			continue
		}

		switch env.Event {
		case wire.EventJoin, wire.EventAdminJoin:
			var p clientJoin
			if err := json.Unmarshal(env.Data, &p); err != nil || p.ChatID == "" {
				c.enqueue(wire.EncodeError("join: chat_id is required"))
				continue
			}
			c.hub.handleJoin(c, p.ChatID, env.Event == wire.EventAdminJoin)
		case wire.EventMessage:
			var p clientMessage
			if err := json.Unmarshal(env.Data, &p); err != nil {
				c.enqueue(wire.EncodeError("malformed message-event"))
				continue
			}
			c.hub.handleMessage(c, p.ChatID, p.SenderID, p.Message)
		case wire.EventMarkAsRead:
			var p clientRead
			if err := json.Unmarshal(env.Data, &p); err != nil || p.MessageID == "" {
				c.enqueue(wire.EncodeError("malformed mark-as-read"))
				continue
			}
			c.hub.handleRead(c, p.MessageID, p.UserID)
		default:
			glog.V(5).Infof("relay: ignoring event %q", env.Event)
		}
	}
}

func (c *client) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case frame, ok := <-c.sendC:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				c.conn.Close()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				glog.V(5).Infof("relay: write: %v", err)
				c.close()
				c.conn.Close()
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				c.conn.Close()
				return
			}
		}
	}
}
