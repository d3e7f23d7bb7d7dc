package journal_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/journal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memRecorder struct {
	mu   sync.Mutex
	recs []domain.Record
	fail bool
}

func (m *memRecorder) Name() string { return "mem" }

func (m *memRecorder) Record(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	if m.fail {
		return errors.New("boom")
	}
	return nil
}

func (m *memRecorder) Records() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.recs...)
}

func TestRing_KeepsNewest(t *testing.T) {
	r := journal.NewRing(3)
	assert.Empty(t, r.Last(0))
	for i := 0; i < 5; i++ {
		r.Add(domain.Record{Message: string(rune('a' + i))})
	}
	assert.Equal(t, 3, r.Len())

	got := r.Last(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "e", got[2].Message)

	got = r.Last(2)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Message)
}

func TestJournal_FileRingAndRecorders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "journal.jsonl")
	rec := &memRecorder{fail: true}
	now := time.Date(2025, 10, 9, 9, 0, 0, 0, time.UTC)

	j := journal.New(journal.Options{Path: path, RingSize: 10, Clock: func() time.Time { return now }},
		[]journal.Recorder{rec}, testLogger())
	log := j.Component("hub")
	log.Info(domain.KindRotation, "btc", "rotated", "from", "m0", "to", "m1")
	log.Warn(domain.KindFreshness, "btc", "stale", "err", errors.New("no data"), "dangling")
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.Equal(t, path, j.Path())
	last := j.Last(0)
	require.Len(t, last, 2)
	assert.Equal(t, domain.LevelWarn, last[1].Level)
	assert.Equal(t, "no data", last[1].Fields["err"])
	assert.Equal(t, "dangling", last[1].Fields["!BADKEY"])

	// Recorder errors are logged, never surfaced.
	assert.Len(t, rec.Records(), 2)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []domain.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r domain.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		lines = append(lines, r)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "hub", lines[0].Component)
	assert.Equal(t, "m1", lines[0].Fields["to"])
	assert.True(t, lines[0].TS.Equal(now))
}

func TestJournal_NilLoggerDiscards(t *testing.T) {
	var l *journal.Logger
	assert.NotPanics(t, func() { l.Error(domain.KindError, "", "ignored") })
}

func TestJournal_WriteAfterCloseKeepsRing(t *testing.T) {
	rec := &memRecorder{}
	j := journal.New(journal.Options{}, []journal.Recorder{rec}, testLogger())
	require.NoError(t, j.Close())

	j.Component("engine").Info(domain.KindSkip, "eth", "late")
	assert.Len(t, j.Last(0), 1)
	assert.Empty(t, rec.Records())
	assert.Equal(t, "", j.Path())
}
