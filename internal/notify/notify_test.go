package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

type memSender struct {
	name   string
	fail   bool
	titles []string
	bodies []string
	levels []domain.Level
}

func (m *memSender) Send(_ context.Context, msg Message) error {
	if m.fail {
		return errors.New("down")
	}
	m.titles = append(m.titles, msg.Title)
	m.bodies = append(m.bodies, msg.Body)
	m.levels = append(m.levels, msg.Level)
	return nil
}

func (m *memSender) Name() string { return m.name }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_Filters(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, []string{"fill", "Error"}, "info", testLogger())
	ctx := context.Background()

	require.NoError(t, n.Record(ctx, domain.Record{Level: domain.LevelInfo, Component: "profile", Kind: domain.KindSkip}))
	require.NoError(t, n.Record(ctx, domain.Record{
		Level: domain.LevelInfo, Component: "profile", Kind: domain.KindFill, Coin: "btc",
		Message: "filled", Fields: map[string]any{"shares": 54, "cost": 47.25},
	}))
	require.NoError(t, n.Record(ctx, domain.Record{Level: domain.LevelError, Component: "hub", Kind: domain.KindError, Message: "boom"}))

	require.Len(t, s.titles, 2)
	assert.Equal(t, "INFO · profile · fill · BTC", s.titles[0])
	assert.Equal(t, "filled\ncost: 47.25\nshares: 54", s.bodies[0])
	assert.Equal(t, "ERROR · hub · error", s.titles[1])
	assert.Equal(t, []domain.Level{domain.LevelInfo, domain.LevelError}, s.levels)
}

func TestNotifier_MinLevel(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, nil, "warn", testLogger())
	ctx := context.Background()

	require.NoError(t, n.Record(ctx, domain.Record{Level: domain.LevelInfo, Kind: domain.KindFill}))
	require.NoError(t, n.Record(ctx, domain.Record{Level: domain.LevelWarn, Kind: domain.KindMismatch}))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_SenderFailureDoesNotStopOthers(t *testing.T) {
	bad := &memSender{name: "bad", fail: true}
	good := &memSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, "", testLogger())

	err := n.NotifyAll(context.Background(), "run started", "mode=profile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, []string{"run started"}, good.titles)
	assert.True(t, n.Enabled())
	assert.False(t, NewNotifier(nil, nil, "", testLogger()).Enabled())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "123:abc", "-100")
	require.NoError(t, s.Send(context.Background(), Message{Level: domain.LevelInfo, Title: "title", Body: "body"}))
	assert.Equal(t, "/bot123:abc/sendMessage", path)
	assert.Equal(t, "-100", got["chat_id"])
	assert.Equal(t, "title\nbody", got["text"])

	require.NoError(t, s.Send(context.Background(), Message{Level: domain.LevelWarn, Title: "gap"}))
	assert.Equal(t, "⚠️ gap", got["text"])
}

func TestTelegramSender_ErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "secret-token", "1")
	err := s.Send(context.Background(), Message{Title: "t", Body: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.NotContains(t, err.Error(), "secret-token")

	s = NewTelegramSender("http://127.0.0.1:1", "secret-token", "1")
	err = s.Send(context.Background(), Message{Title: "t", Body: "m"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = discordPayload{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	at := time.Date(2025, 10, 9, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Send(context.Background(), Message{Level: domain.LevelWarn, Title: "WARN · arbitrage", Body: "gap", At: at}))
	require.Len(t, got.Embeds, 1)
	e := got.Embeds[0]
	assert.Equal(t, "WARN · arbitrage", e.Title)
	assert.Equal(t, "```\ngap\n```", e.Description)
	assert.Equal(t, discordColors[domain.LevelWarn], e.Color)
	assert.Equal(t, "2025-10-09T12:00:00Z", e.Timestamp)

	require.NoError(t, s.Send(context.Background(), Message{Title: "t", Body: strings.Repeat("x", 5000)}))
	assert.Len(t, []rune(got.Embeds[0].Description), discordMaxDescription)
	assert.Empty(t, got.Embeds[0].Timestamp)
}

func TestPostJSON_RetriesOnceAfter429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, postJSON(context.Background(), newHTTPClient(), srv.URL, map[string]string{"a": "b"}))
	assert.Equal(t, 2, calls)
}

func TestPostJSON_GivesUpOnLongRetryAfter(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := postJSON(context.Background(), newHTTPClient(), srv.URL, nil)
	var serr *statusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.code)
	assert.Equal(t, 1, calls)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryAfter(""))
	assert.Equal(t, time.Duration(0), retryAfter("-1"))
	assert.Equal(t, 2*time.Second, retryAfter("2"))
	assert.Equal(t, 100*time.Millisecond, retryAfter("0"))
	assert.Equal(t, time.Duration(0), retryAfter("30"))
}
