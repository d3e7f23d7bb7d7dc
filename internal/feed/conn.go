// Package feed runs the reconnecting websocket sessions behind every venue
// feed client. A Codec adapts one venue's wire protocol; Conn owns the
// connection lifecycle, keepalives, tracked subscriptions and delivers
// decoded events on a channel.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/retry"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 15 * time.Second

	defaultPingInterval = 20 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultBuffer       = 1024
)

// Codec translates between a venue's wire protocol and domain events.
type Codec interface {
	// Header returns the handshake headers, e.g. signed auth headers.
	Header() (http.Header, error)
	// SubscribeFrames builds the frames subscribing ids. initial is true for
	// the first frames of a fresh session.
	SubscribeFrames(ids []string, initial bool) ([][]byte, error)
	// UnsubscribeFrames builds the frames unsubscribing ids.
	UnsubscribeFrames(ids []string) ([][]byte, error)
	// Decode converts one inbound frame into zero or more events.
	Decode(raw []byte, recv time.Time) ([]domain.FeedEvent, error)
}

// Resetter is implemented by codecs that keep per-session state such as
// server-assigned subscription IDs.
type Resetter interface {
	Reset()
}

// Options configures a Conn.
type Options struct {
	Venue domain.Venue
	// Name labels the feed in logs and ConnEvents, e.g. "market" or "spot".
	Name string
	URL  string

	BackoffMin time.Duration
	BackoffMax time.Duration

	PingInterval time.Duration
	// TextPing, when set, is sent as a text frame instead of a control ping.
	TextPing []byte
	// ReadTimeout ends a session that received nothing for that long.
	ReadTimeout time.Duration

	Buffer int
	Clock  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.BackoffMin <= 0 {
		o.BackoffMin = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.Buffer <= 0 {
		o.Buffer = defaultBuffer
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Conn is one persistent, self-healing websocket connection.
type Conn struct {
	opts   Options
	codec  Codec
	subs   *SubscriptionSet
	events chan domain.FeedEvent
	logger *slog.Logger

	mu   sync.Mutex // guards ws and every write on it
	ws   *websocket.Conn
	live atomic.Bool
}

// NewConn creates a connection. Nothing is dialed until Run.
func NewConn(opts Options, codec Codec, logger *slog.Logger) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		opts:   opts,
		codec:  codec,
		subs:   NewSubscriptionSet(),
		events: make(chan domain.FeedEvent, opts.Buffer),
		logger: logger.With(
			slog.String("component", "feed"),
			slog.String("venue", string(opts.Venue)),
			slog.String("feed", opts.Name),
		),
	}
}

// Events returns the event stream. It is closed when Run returns.
func (c *Conn) Events() <-chan domain.FeedEvent {
	return c.events
}

// Connected reports whether a session is currently established.
func (c *Conn) Connected() bool {
	return c.live.Load()
}

// Subscriptions returns the tracked subscription IDs.
func (c *Conn) Subscriptions() []string {
	return c.subs.List()
}

// Run dials and keeps the connection alive until ctx is cancelled,
// reconnecting with capped exponential backoff and restoring every tracked
// subscription on each new session. Run must be called once.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.events)
	backoff := retry.NewBackoff(c.opts.BackoffMin, c.opts.BackoffMax)

	for ctx.Err() == nil {
		established, err := c.session(ctx)
		if established {
			backoff.Reset()
		}
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			err = domain.ErrWSDisconnect
		}
		c.emit(ctx, domain.ConnEvent{Venue: c.opts.Venue, Feed: c.opts.Name, Err: err, TS: c.opts.Clock()})

		delay := backoff.Next()
		c.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", delay),
			slog.Int("attempt", backoff.Attempts()),
		)
		if retry.Sleep(ctx, delay) != nil {
			break
		}
	}
	return nil
}

// Subscribe tracks ids and, when connected, subscribes them right away.
// While disconnected the IDs are subscribed on the next session.
func (c *Conn) Subscribe(_ context.Context, ids []string) error {
	added := c.subs.Add(ids...)
	if len(added) == 0 || !c.Connected() {
		return nil
	}
	frames, err := c.codec.SubscribeFrames(added, false)
	if err != nil {
		return fmt.Errorf("feed/%s: subscribe: %w", c.opts.Name, err)
	}
	return c.write(frames)
}

// Unsubscribe stops tracking ids and unsubscribes them when connected.
func (c *Conn) Unsubscribe(_ context.Context, ids []string) error {
	removed := c.subs.Remove(ids...)
	if len(removed) == 0 || !c.Connected() {
		return nil
	}
	frames, err := c.codec.UnsubscribeFrames(removed)
	if err != nil {
		return fmt.Errorf("feed/%s: unsubscribe: %w", c.opts.Name, err)
	}
	return c.write(frames)
}

// Replace swaps old IDs for next ones without touching any other tracked
// subscription on this connection.
func (c *Conn) Replace(_ context.Context, old, next []string) error {
	removed, added := c.subs.Replace(old, next)
	if !c.Connected() {
		return nil
	}
	var frames [][]byte
	if len(removed) > 0 {
		f, err := c.codec.UnsubscribeFrames(removed)
		if err != nil {
			return fmt.Errorf("feed/%s: replace: %w", c.opts.Name, err)
		}
		frames = append(frames, f...)
	}
	if len(added) > 0 {
		f, err := c.codec.SubscribeFrames(added, false)
		if err != nil {
			return fmt.Errorf("feed/%s: replace: %w", c.opts.Name, err)
		}
		frames = append(frames, f...)
	}
	return c.write(frames)
}

// Refresh re-sends subscriptions for ids on the live session so the venue
// replays fresh snapshots. It never tears the connection down.
func (c *Conn) Refresh(_ context.Context, ids []string) error {
	if !c.Connected() {
		return fmt.Errorf("feed/%s: refresh: %w", c.opts.Name, domain.ErrNotConnected)
	}
	var tracked []string
	for _, id := range ids {
		if c.subs.Has(id) {
			tracked = append(tracked, id)
		}
	}
	if len(tracked) == 0 {
		return nil
	}
	unsub, err := c.codec.UnsubscribeFrames(tracked)
	if err != nil {
		return fmt.Errorf("feed/%s: refresh: %w", c.opts.Name, err)
	}
	sub, err := c.codec.SubscribeFrames(tracked, false)
	if err != nil {
		return fmt.Errorf("feed/%s: refresh: %w", c.opts.Name, err)
	}
	return c.write(append(unsub, sub...))
}

// session runs one connection until it fails. established reports whether
// the dial succeeded.
func (c *Conn) session(ctx context.Context) (established bool, err error) {
	header, err := c.codec.Header()
	if err != nil {
		return false, fmt.Errorf("feed/%s: auth header: %w", c.opts.Name, err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return false, fmt.Errorf("feed/%s: dial: %w", c.opts.Name, err)
	}
	if r, ok := c.codec.(Resetter); ok {
		r.Reset()
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.live.Store(false)
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	restored := c.subs.List()
	if len(restored) > 0 {
		if err := c.sendSubscribe(ws, restored, true); err != nil {
			return true, fmt.Errorf("feed/%s: restore subscriptions: %w", c.opts.Name, err)
		}
	}
	c.live.Store(true)
	// IDs added while restoring saw the connection as down.
	if missed := missing(c.subs.List(), restored); len(missed) > 0 {
		if err := c.sendSubscribe(ws, missed, len(restored) == 0); err != nil {
			return true, fmt.Errorf("feed/%s: subscribe: %w", c.opts.Name, err)
		}
	}
	c.logger.Info("feed connected", slog.Int("subscriptions", c.subs.Len()))
	c.emit(ctx, domain.ConnEvent{Venue: c.opts.Venue, Feed: c.opts.Name, Connected: true, TS: c.opts.Clock()})

	_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(ws, stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-stop:
		}
	}()

	for {
		typ, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, websocket.ErrCloseSent) {
				return true, nil
			}
			return true, fmt.Errorf("feed/%s: read: %w", c.opts.Name, err)
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 || isKeepalive(msg) {
			continue
		}

		events, err := c.codec.Decode(msg, c.opts.Clock())
		if err != nil {
			c.logger.Debug("feed decode failed", slog.String("error", err.Error()), slog.Int("len", len(msg)))
			continue
		}
		for _, ev := range events {
			if !c.emit(ctx, ev) {
				return true, nil
			}
		}
	}
}

func (c *Conn) sendSubscribe(ws *websocket.Conn, ids []string, initial bool) error {
	frames, err := c.codec.SubscribeFrames(ids, initial)
	if err != nil {
		return err
	}
	return c.writeTo(ws, frames)
}

func missing(all, have []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	var out []string
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (c *Conn) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if len(c.opts.TextPing) > 0 {
				err = ws.WriteMessage(websocket.TextMessage, c.opts.TextPing)
			} else {
				err = ws.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("feed ping failed", slog.String("error", err.Error()))
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) write(frames [][]byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return c.writeTo(ws, frames)
}

func (c *Conn) writeTo(ws *websocket.Conn, frames [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range frames {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.TextMessage, f); err != nil {
			return fmt.Errorf("feed/%s: write: %w", c.opts.Name, err)
		}
	}
	return nil
}

// emit delivers ev, blocking until the consumer takes it or ctx ends.
func (c *Conn) emit(ctx context.Context, ev domain.FeedEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func isKeepalive(msg []byte) bool {
	switch string(msg) {
	case "ping", "pong", "PING", "PONG":
		return true
	}
	return false
}
