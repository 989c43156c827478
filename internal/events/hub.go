package events

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 2 * time.Second
	// sendQueue is how many lines may wait for a slow client before it is
	// dropped.
	sendQueue = 16
)

const (
	transportTCP = "tcp"
	transportWS  = "websocket"
)

// Hub fans events out to TCP and websocket clients. Every client has its own
// writer goroutine fed by a bounded queue, so publishing never waits on a
// client's socket.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[io.Closer]*client
	last    *DatabaseEvent
	closed  bool
}

type client struct {
	transport string
	remote    string
	send      chan []byte
	write     func([]byte) error
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
}

type welcome struct {
	Type      string         `json:"type"`
	Transport string         `json:"transport"`
	Clients   int            `json:"clients"`
	Database  *DatabaseEvent `json:"database,omitempty"`
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[io.Closer]*client),
	}
}

// Add registers a TCP client and queues the welcome line. It reports false
// once the hub is closed.
func (h *Hub) Add(conn net.Conn) bool {
	return h.add(conn, transportTCP, conn.RemoteAddr().String(), func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_, err := conn.Write(b)
		return err
	})
}

func (h *Hub) Remove(conn net.Conn) { h.remove(conn) }

func (h *Hub) AddWS(ws *websocket.Conn) bool {
	return h.add(ws, transportWS, ws.RemoteAddr().String(), func(b []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.TextMessage, b)
	})
}

func (h *Hub) RemoveWS(ws *websocket.Conn) { h.remove(ws) }

func (h *Hub) add(conn io.Closer, transport, remote string, write func([]byte) error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = conn.Close()
		return false
	}
	c := &client{
		transport: transport,
		remote:    remote,
		send:      make(chan []byte, sendQueue),
		write:     write,
	}
	h.clients[conn] = c
	c.send <- h.welcomeLocked(transport)
	go h.writeLoop(conn, c)
	return true
}

// writeLoop is the only writer of conn. It exits once the queue is closed.
func (h *Hub) writeLoop(conn io.Closer, c *client) {
	for b := range c.send {
		if err := c.write(b); err != nil {
			h.logger.Debug("drop client",
				zap.String("transport", c.transport),
				zap.String("remote", c.remote),
				zap.Error(err))
			h.remove(conn)
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) remove(conn io.Closer) {
	h.mu.Lock()
	h.dropLocked(conn)
	h.mu.Unlock()
	_ = conn.Close()
}

// dropLocked forgets conn and closes its queue. Only the caller that finds
// conn registered closes the queue.
func (h *Hub) dropLocked(conn io.Closer) {
	if c, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(c.send)
	}
}

// welcomeLocked encodes the greeting with the last known database state.
func (h *Hub) welcomeLocked(transport string) []byte {
	b, _ := json.Marshal(welcome{
		Type:      TypeWelcome,
		Transport: transport,
		Clients:   len(h.clients),
		Database:  h.last,
	})
	return append(b, '\n')
}

// Publish remembers ev as the current state and sends it to every client.
func (h *Hub) Publish(ev DatabaseEvent) {
	h.mu.Lock()
	h.last = &ev
	h.mu.Unlock()
	h.BroadcastJSON(ev)
}

// BroadcastJSON queues v as one JSON line for every client. A client whose
// queue is full is dropped; the call itself never blocks on a socket.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("encode broadcast", zap.Error(err))
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.logger.Debug("drop slow client", zap.String("transport", c.transport), zap.String("remote", c.remote))
			h.dropLocked(conn)
			_ = conn.Close()
		}
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var st Stats
	for _, c := range h.clients {
		if c.transport == transportWS {
			st.WSClients++
		} else {
			st.TCPClients++
		}
	}
	return st
}

// Close disconnects every client. Later Add calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		h.dropLocked(conn)
		_ = conn.Close()
	}
}
