// Package conn owns the single websocket handle of one mounted chat
// session. Every outbound send goes through the Manager; no other
// component touches the socket.
package conn

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/medigear/supportchat/metrics"
)

// ErrNotConnected is returned by Send while the socket is not open.
// Callers surface it as a "no connection" notice; there is no outbound
// queue, unsent chat text stays in the input field for a manual retry.
var ErrNotConnected = errors.New("conn: not connected")

const (
	writeWait        = 3 * time.Second
	handshakeTimeout = 10 * time.Second
)

type State int

const (
	Closed State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// Callbacks is the event surface of the manager. Callbacks fire from
// the manager's dial and read goroutines, one at a time.
type Callbacks struct {
	OnOpen  func()
	OnFrame func(raw []byte)
	OnError func(err error)
	OnClose func()
}

// Manager drives the Closed -> Connecting -> Open -> Closed state
// machine. There is no retry timer: after a close or error the manager
// re-dials exactly once per visibility change, via ResumeIfNeeded.
type Manager struct {
	mu     sync.Mutex
	cb     Callbacks
	dialer *websocket.Dialer
	url    string
	state  State
	ws     *websocket.Conn
	// gen invalidates dial and read goroutines of earlier connections.
	gen int
}

func NewManager(cb Callbacks) *Manager {
	return &Manager{
		cb:     cb,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Open dials the url. No-op unless the manager is Closed.
func (m *Manager) Open(url string) {
	m.mu.Lock()
	if m.state != Closed {
		m.mu.Unlock()
		return
	}
	m.url = url
	m.state = Connecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(url, gen)
}

// ResumeIfNeeded re-dials the last url once. The host calls it when
// the page becomes visible again; nothing happens while the manager is
// already Open or Connecting, or before the first Open.
func (m *Manager) ResumeIfNeeded() bool {
	m.mu.Lock()
	if m.state != Closed || m.url == "" {
		m.mu.Unlock()
		return false
	}
	m.state = Connecting
	m.gen++
	gen := m.gen
	url := m.url
	m.mu.Unlock()

	glog.V(5).Infof("conn: resuming %s", url)
	metrics.ReconnectAttempts.Inc()
	go m.dial(url, gen)
	return true
}

func (m *Manager) dial(url string, gen int) {
	ws, _, err := m.dialer.Dial(url, nil)

	m.mu.Lock()
	if m.gen != gen || m.state != Connecting {
		m.mu.Unlock()
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		m.state = Closed
		m.mu.Unlock()
		glog.Errorf("conn: dial %s: %v", url, err)
		if m.cb.OnError != nil {
			m.cb.OnError(err)
		}
		if m.cb.OnClose != nil {
			m.cb.OnClose()
		}
		return
	}
	m.ws = ws
	m.state = Open
	m.mu.Unlock()

	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}
	m.readLoop(ws, gen)
}

func (m *Manager) readLoop(ws *websocket.Conn, gen int) {
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			m.teardown(gen, err)
			return
		}
		if msgType != websocket.TextMessage {
			glog.V(5).Infof("conn: dropping frame of type %d", msgType)
			continue
		}

		m.mu.Lock()
		stale := m.gen != gen
		m.mu.Unlock()
		if stale {
			return
		}
		if m.cb.OnFrame != nil {
			m.cb.OnFrame(data)
		}
	}
}

func (m *Manager) teardown(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	wasOpen := m.state == Open
	ws := m.ws
	m.ws = nil
	m.state = Closed
	m.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	if !wasOpen {
		return
	}
	if err != nil && !isExpectedClose(err) {
		glog.Errorf("conn: read: %v", err)
		if m.cb.OnError != nil {
			m.cb.OnError(err)
		}
	}
	if m.cb.OnClose != nil {
		m.cb.OnClose()
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Send writes one text frame. A write error tears the connection down
// through the read loop shortly after; callers treat any error like
// ErrNotConnected.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Open || m.ws == nil {
		return ErrNotConnected
	}
	m.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := m.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		glog.Errorf("conn: write: %v", err)
		return err
	}
	return nil
}

// Close shuts the connection down without firing OnClose; disposal is
// not an event the session reacts to.
func (m *Manager) Close() {
	m.mu.Lock()
	m.gen++
	ws := m.ws
	m.ws = nil
	m.state = Closed
	m.mu.Unlock()

	if ws != nil {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ws.Close()
	}
}
