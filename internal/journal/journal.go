// Package journal is the append-only telemetry sink of hubs and engines.
// Every record is mirrored to slog, kept in a bounded ring for display,
// optionally appended to a JSONL file and fanned out to recorders such as
// the Redis event bus, the Postgres audit table or a chat notifier.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const recordTimeout = 5 * time.Second

// Recorder receives every journal record off the hot path.
type Recorder interface {
	Name() string
	Record(ctx context.Context, rec domain.Record) error
}

// Options configures a Journal.
type Options struct {
	RingSize int
	// Path of the JSONL file; blank disables file output.
	Path      string
	QueueSize int
	Clock     func() time.Time
}

// Journal is safe for concurrent use.
type Journal struct {
	ring      *Ring
	file      *FileWriter
	recorders []Recorder
	clock     func() time.Time
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan domain.Record
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// New creates a Journal and starts its recorder dispatcher.
func New(opts Options, recorders []Recorder, logger *slog.Logger) *Journal {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	j := &Journal{
		ring:      NewRing(opts.RingSize),
		file:      NewFileWriter(opts.Path),
		recorders: recorders,
		clock:     opts.Clock,
		logger:    logger,
		queue:     make(chan domain.Record, opts.QueueSize),
	}
	j.wg.Add(1)
	go j.dispatch()
	return j
}

// Component returns a logger stamping records with component.
func (j *Journal) Component(name string) *Logger {
	return &Logger{j: j, component: name}
}

// Write appends rec. A zero timestamp is set to now.
func (j *Journal) Write(rec domain.Record) {
	if rec.TS.IsZero() {
		rec.TS = j.clock()
	}
	if rec.Level == "" {
		rec.Level = domain.LevelInfo
	}

	j.ring.Add(rec)
	j.mirror(rec)
	if err := j.file.Write(rec); err != nil {
		j.logger.Warn("journal file write failed", slog.String("error", err.Error()))
	}

	if len(j.recorders) == 0 {
		return
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- rec:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) mirror(rec domain.Record) {
	lvl := slog.LevelInfo
	switch rec.Level {
	case domain.LevelWarn:
		lvl = slog.LevelWarn
	case domain.LevelError:
		lvl = slog.LevelError
	}
	attrs := make([]slog.Attr, 0, 3+len(rec.Fields))
	attrs = append(attrs, slog.String("component", rec.Component))
	if rec.Kind != "" {
		attrs = append(attrs, slog.String("kind", rec.Kind))
	}
	if rec.Coin != "" {
		attrs = append(attrs, slog.String("coin", rec.Coin))
	}
	for k, v := range rec.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	j.logger.LogAttrs(context.Background(), lvl, rec.Message, attrs...)
}

func (j *Journal) dispatch() {
	defer j.wg.Done()
	for rec := range j.queue {
		for _, r := range j.recorders {
			ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			if err := r.Record(ctx, rec); err != nil {
				j.logger.Warn("journal recorder failed",
					slog.String("recorder", r.Name()),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}
}

// Last returns up to n of the most recent records, oldest first.
func (j *Journal) Last(n int) []domain.Record {
	return j.ring.Last(n)
}

// Path returns the JSONL file path, "" when file output is off.
func (j *Journal) Path() string {
	return j.file.Path()
}

// Dropped returns how many records recorders missed because the queue was
// full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Close drains queued records to the recorders and closes the file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	j.wg.Wait()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}
	return nil
}

// Logger writes records for one component. A nil Logger discards.
type Logger struct {
	j         *Journal
	component string
}

// Log appends a record. kv holds alternating key/value pairs.
func (l *Logger) Log(level domain.Level, kind, coin, message string, kv ...any) {
	if l == nil || l.j == nil {
		return
	}
	l.j.Write(domain.Record{
		Level:     level,
		Component: l.component,
		Kind:      kind,
		Coin:      coin,
		Message:   message,
		Fields:    fields(kv),
	})
}

// Info logs at INFO.
func (l *Logger) Info(kind, coin, message string, kv ...any) {
	l.Log(domain.LevelInfo, kind, coin, message, kv...)
}

// Warn logs at WARN.
func (l *Logger) Warn(kind, coin, message string, kv ...any) {
	l.Log(domain.LevelWarn, kind, coin, message, kv...)
}

// Error logs at ERROR.
func (l *Logger) Error(kind, coin, message string, kv ...any) {
	l.Log(domain.LevelError, kind, coin, message, kv...)
}

func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	out := make(map[string]any, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			out["!BADKEY"] = key
			break
		}
		v := kv[i+1]
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		out[key] = v
	}
	return out
}
