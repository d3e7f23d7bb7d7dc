package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
	// Pings must arrive before the peer's read deadline expires.
	pingEvery  = idleTimeout * 9 / 10
	maxInbound = 4096
	queueSize  = 256
	allTopics  = "*"
)

// control is the only message clients send.
//
//	{"action":"subscribe","topics":["summary","journal"]}
type control struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// session is one dashboard connection.
type session struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	queue  chan []byte

	mu     sync.RWMutex
	topics map[string]bool
	closed bool
}

func newSession(h *Hub, conn *websocket.Conn, remote string, topics []string) *session {
	s := &session{
		hub:    h,
		conn:   conn,
		remote: remote,
		queue:  make(chan []byte, queueSize),
		topics: make(map[string]bool, len(topics)),
	}
	for _, t := range topics {
		s.topics[t] = true
	}
	return s
}

func (s *session) wants(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics[topic] || s.topics[allTopics]
}

// offer queues f when subscribed. It reports false only when the queue is
// full.
func (s *session) offer(f frame) bool {
	if !s.wants(f.topic) {
		return true
	}
	select {
	case s.queue <- f.data:
		return true
	default:
		return false
	}
}

// close is called by the hub with its lock held.
func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

func (s *session) apply(c control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range c.Topics {
		switch c.Action {
		case "subscribe":
			s.topics[t] = true
		case "unsubscribe":
			delete(s.topics, t)
		}
	}
}

func (s *session) readLoop() {
	defer func() {
		select {
		case s.hub.leaves <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxInbound)
	extend := func(string) error { return s.conn.SetReadDeadline(time.Now().Add(idleTimeout)) }
	_ = extend("")
	s.conn.SetPongHandler(extend)

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("ws: read failed", slog.String("remote", s.remote), slog.String("error", err.Error()))
			}
			return
		}
		var c control
		if json.Unmarshal(msg, &c) == nil && c.Action != "" {
			s.apply(c)
		}
	}
}

func (s *session) writeLoop() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		_ = s.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, ok := <-s.queue:
			if !ok {
				kind = websocket.CloseMessage
			}
			data = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}
