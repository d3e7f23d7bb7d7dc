package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRunLease(t *testing.T) {
	c := &Client{prefix: "updown:"}

	l := NewRunLease(c, "run", 0, "")
	assert.Equal(t, "updown:lock:run", l.Key())
	assert.Equal(t, 30*time.Second, l.ttl)
	assert.Len(t, l.token, 36)

	other := NewRunLease(c, "run", time.Minute, "fixed")
	assert.Equal(t, "fixed", other.token)
	assert.NotEqual(t, l.token, NewRunLease(c, "run", 0, "").token)
}

func TestRunLeaseReleaseWithoutAcquire(t *testing.T) {
	l := NewRunLease(&Client{}, "run", time.Second, "")
	// Nothing is held, so no Redis call is made.
	l.Release()
	l.Release()
}
