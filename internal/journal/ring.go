package journal

import (
	"sync"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Ring keeps the most recent records in memory for display.
type Ring struct {
	mu   sync.RWMutex
	buf  []domain.Record
	next int
	full bool
}

// NewRing creates a ring holding up to size records.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 500
	}
	return &Ring{buf: make([]domain.Record, size)}
}

// Add stores rec, evicting the oldest record when full.
func (r *Ring) Add(rec domain.Record) {
	r.mu.Lock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Last returns up to n records, oldest first. n <= 0 returns everything held.
func (r *Ring) Last(n int) []domain.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.next
	if r.full {
		count = len(r.buf)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]domain.Record, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Len returns the number of records held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
