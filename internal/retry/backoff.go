// Package retry provides the capped exponential backoff shared by feed
// reconnects, market reselection, reference discovery and official-result
// polling.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff doubles a delay from Min up to Max. Jitter spreads each delay by up
// to ±1/7 of its value when enabled. Not safe for concurrent use.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter bool

	cur      time.Duration
	attempts int
}

// NewBackoff returns a jittered backoff.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max, Jitter: true}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	if b.cur <= 0 {
		b.cur = b.Min
	}
	d := b.cur
	b.cur = next(b.cur, b.Max)
	b.attempts++
	if b.Jitter {
		d = jitter(d)
	}
	return d
}

// Reset returns the schedule to Min.
func (b *Backoff) Reset() {
	b.cur = 0
	b.attempts = 0
}

// Attempts counts calls to Next since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

func next(cur, max time.Duration) time.Duration {
	n := cur * 2
	if n > max || n <= 0 {
		return max
	}
	return n
}

func jitter(d time.Duration) time.Duration {
	j := int64(d) / 7
	if j <= 0 {
		return d
	}
	return time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Schedule gates a retried action on a polling loop: the caller checks Due on
// each tick and reports the attempt's result.
type Schedule struct {
	backoff *Backoff
	nextAt  time.Time
	done    bool
}

// NewSchedule returns a schedule that is due immediately.
func NewSchedule(min, max time.Duration) *Schedule {
	return &Schedule{backoff: NewBackoff(min, max)}
}

// Due reports whether an attempt should run at now.
func (s *Schedule) Due(now time.Time) bool {
	return !s.done && !now.Before(s.nextAt)
}

// Failed records a failed attempt and pushes the next one out.
func (s *Schedule) Failed(now time.Time) time.Duration {
	d := s.backoff.Next()
	s.nextAt = now.Add(d)
	return d
}

// Succeeded stops the schedule until Restart.
func (s *Schedule) Succeeded() {
	s.done = true
	s.backoff.Reset()
}

// Restart makes the schedule due immediately with a fresh backoff.
func (s *Schedule) Restart() {
	s.done = false
	s.nextAt = time.Time{}
	s.backoff.Reset()
}

// Attempts counts failures since the last restart.
func (s *Schedule) Attempts() int {
	return s.backoff.Attempts()
}

// Done reports whether the schedule finished successfully.
func (s *Schedule) Done() bool {
	return s.done
}
