package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type testFrame struct {
	Op  string   `json:"op"`
	IDs []string `json:"ids"`
}

type testCodec struct{}

func (testCodec) Header() (http.Header, error) { return nil, nil }

func (testCodec) SubscribeFrames(ids []string, initial bool) ([][]byte, error) {
	op := "sub"
	if initial {
		op = "init"
	}
	b, err := json.Marshal(testFrame{Op: op, IDs: ids})
	return [][]byte{b}, err
}

func (testCodec) UnsubscribeFrames(ids []string) ([][]byte, error) {
	b, err := json.Marshal(testFrame{Op: "unsub", IDs: ids})
	return [][]byte{b}, err
}

func (testCodec) Decode(raw []byte, recv time.Time) ([]domain.FeedEvent, error) {
	var m struct {
		Token string  `json:"token"`
		Price float64 `json:"price"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return []domain.FeedEvent{domain.TradeEvent{Venue: domain.VenuePolymarket, TokenID: m.Token, Price: m.Price, TS: recv}}, nil
}

// wsServer records every frame it receives and lets the test push frames or
// drop the current connection.
type wsServer struct {
	*httptest.Server
	mu     sync.Mutex
	frames []testFrame
	conns  chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	up := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- c
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f testFrame
			if json.Unmarshal(msg, &f) == nil && f.Op != "" {
				s.mu.Lock()
				s.frames = append(s.frames, f)
				s.mu.Unlock()
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) Frames() []testFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]testFrame(nil), s.frames...)
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func nextEvent(t *testing.T, ch <-chan domain.FeedEvent) domain.FeedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestConn_RestoresAndReplacesSubscriptions(t *testing.T) {
	srv := newWSServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewConn(Options{
		Venue: domain.VenuePolymarket, Name: "market", URL: srv.wsURL(),
		BackoffMin: 10 * time.Millisecond, BackoffMax: 20 * time.Millisecond,
	}, testCodec{}, logger)

	require.NoError(t, c.Subscribe(context.Background(), []string{"a", "b"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	ev := nextEvent(t, c.Events())
	conn, ok := ev.(domain.ConnEvent)
	require.True(t, ok)
	assert.True(t, conn.Connected)
	assert.True(t, c.Connected())

	server := <-srv.conns
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"token":"a","price":0.42}`)))
	trade, ok := nextEvent(t, c.Events()).(domain.TradeEvent)
	require.True(t, ok)
	assert.Equal(t, "a", trade.TokenID)
	assert.InDelta(t, 0.42, trade.Price, 1e-12)

	require.NoError(t, c.Replace(context.Background(), []string{"a"}, []string{"c"}))
	require.NoError(t, c.Refresh(context.Background(), []string{"b"}))
	assert.Equal(t, []string{"b", "c"}, c.Subscriptions())

	require.Eventually(t, func() bool { return len(srv.Frames()) == 5 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []testFrame{
		{Op: "init", IDs: []string{"a", "b"}},
		{Op: "unsub", IDs: []string{"a"}},
		{Op: "sub", IDs: []string{"c"}},
		{Op: "unsub", IDs: []string{"b"}},
		{Op: "sub", IDs: []string{"b"}},
	}, srv.Frames())

	// dropping the connection triggers a reconnect that restores b and c
	require.NoError(t, server.Close())
	down, ok := nextEvent(t, c.Events()).(domain.ConnEvent)
	require.True(t, ok)
	assert.False(t, down.Connected)
	assert.Error(t, down.Err)

	up, ok := nextEvent(t, c.Events()).(domain.ConnEvent)
	require.True(t, ok)
	assert.True(t, up.Connected)
	require.Eventually(t, func() bool { return len(srv.Frames()) == 6 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, testFrame{Op: "init", IDs: []string{"b", "c"}}, srv.Frames()[5])

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, open := <-c.Events()
	assert.False(t, open)
}

func TestConn_RefreshRequiresConnection(t *testing.T) {
	c := NewConn(Options{Name: "market"}, testCodec{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := c.Refresh(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSubscriptionSet(t *testing.T) {
	s := NewSubscriptionSet()
	assert.Equal(t, []string{"a", "b"}, s.Add("a", "b", "a", ""))
	assert.Nil(t, s.Add("a"))

	removed, added := s.Replace([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a"}, removed)
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"b", "c"}, s.List())

	assert.Equal(t, []string{"c"}, s.Remove("c", "zz"))
	assert.True(t, s.Has("b"))
	assert.Equal(t, 1, s.Len())
}
