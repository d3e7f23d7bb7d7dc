// Package ws pushes live status to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// TopicJournal carries live journal records. It is fed by Record, not by a
// producer.
const TopicJournal = "journal"

const outboxSize = 256

// Origins are checked by the CORS layer in front of the hub.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Envelope is every frame sent to clients.
type Envelope struct {
	Type    string    `json:"type"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

type frame struct {
	topic string
	data  []byte
}

// Options configures the hub.
type Options struct {
	// PushInterval is how often producer topics are sampled.
	PushInterval time.Duration
	// DefaultTopics are subscribed on connect; empty means every topic.
	DefaultTopics []string
	Clock         func() time.Time
}

// Hub fans frames out to sessions. Producer topics are sampled every
// PushInterval; journal records go out as they arrive.
type Hub struct {
	opts      Options
	logger    *slog.Logger
	producers map[string]func() any

	mu       sync.RWMutex
	sessions map[*session]struct{}

	outbox chan frame
	joins  chan *session
	leaves chan *session
	done   chan struct{}
}

// NewHub returns a hub. Register producers with Produce before Run.
func NewHub(opts Options, logger *slog.Logger) *Hub {
	if opts.PushInterval <= 0 {
		opts.PushInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Hub{
		opts:      opts,
		logger:    logger.With(slog.String("component", "ws")),
		producers: make(map[string]func() any),
		sessions:  make(map[*session]struct{}),
		outbox:    make(chan frame, outboxSize),
		joins:     make(chan *session),
		leaves:    make(chan *session),
		done:      make(chan struct{}),
	}
}

// Produce makes fn the source of topic.
func (h *Hub) Produce(topic string, fn func() any) {
	h.mu.Lock()
	h.producers[topic] = fn
	h.mu.Unlock()
}

// Topics lists every topic clients may subscribe to.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	out := append(slices.Collect(maps.Keys(h.producers)), TopicJournal)
	h.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Name implements journal.Recorder.
func (h *Hub) Name() string { return "ws" }

// Record implements journal.Recorder. Records are dropped while the outbox
// is full.
func (h *Hub) Record(_ context.Context, rec domain.Record) error {
	if f, ok := h.encode(TopicJournal, h.opts.Clock(), rec); ok {
		select {
		case h.outbox <- f:
		default:
		}
	}
	return nil
}

// Run owns the session set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	tick := time.NewTicker(h.opts.PushInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				s.close()
			}
			clear(h.sessions)
			h.mu.Unlock()
			return nil

		case s := <-h.joins:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			n := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("ws: session opened", slog.String("remote", s.remote), slog.Int("sessions", n))
			for _, f := range h.sample() {
				s.offer(f)
			}

		case s := <-h.leaves:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				s.close()
			}
			n := len(h.sessions)
			h.mu.Unlock()
			h.logger.Info("ws: session closed", slog.String("remote", s.remote), slog.Int("sessions", n))

		case <-tick.C:
			if h.sessionCount() == 0 {
				continue
			}
			for _, f := range h.sample() {
				h.fanout(f)
			}

		case f := <-h.outbox:
			h.fanout(f)
		}
	}
}

func (h *Hub) sample() []frame {
	h.mu.RLock()
	producers := maps.Clone(h.producers)
	h.mu.RUnlock()

	now := h.opts.Clock()
	out := make([]frame, 0, len(producers))
	for topic, fn := range producers {
		if f, ok := h.encode(topic, now, fn()); ok {
			out = append(out, f)
		}
	}
	return out
}

func (h *Hub) encode(topic string, at time.Time, payload any) (frame, bool) {
	data, err := json.Marshal(Envelope{Type: topic, TS: at.UTC(), Payload: payload})
	if err != nil {
		h.logger.Warn("ws: encode frame", slog.String("topic", topic), slog.String("error", err.Error()))
		return frame{}, false
	}
	return frame{topic: topic, data: data}, true
}

func (h *Hub) fanout(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.offer(f) {
			h.logger.Warn("ws: session backed up, frame dropped",
				slog.String("remote", s.remote), slog.String("topic", f.topic))
		}
	}
}

func (h *Hub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleWS upgrades the request and attaches a session. ?topics=a,b
// replaces the default subscription.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}
	s := newSession(h, conn, r.RemoteAddr, h.initialTopics(r.URL.Query().Get("topics")))

	select {
	case h.joins <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go s.writeLoop()
	go s.readLoop()
}

func (h *Hub) initialTopics(query string) []string {
	if query != "" {
		var out []string
		for _, t := range strings.Split(query, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	if len(h.opts.DefaultTopics) > 0 {
		return h.opts.DefaultTopics
	}
	return h.Topics()
}
