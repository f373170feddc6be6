package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucket_DrainsAndRefuses(t *testing.T) {
	tb := NewTokenBucket(2, 0)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	tb.Reset()
	assert.True(t, tb.Allow())
}

func TestTokenBucket_Refills(t *testing.T) {
	tb := NewTokenBucket(1, 1000)

	assert.True(t, tb.Allow())
	time.Sleep(5 * time.Millisecond)
	assert.True(t, tb.Allow())
}

func TestIPRateLimiter_PerIP(t *testing.T) {
	l := NewIPRateLimiter(1, 0, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())
}

func TestIPRateLimiter_Prune(t *testing.T) {
	l := NewIPRateLimiter(1, 0, time.Minute)
	defer l.Stop()

	l.Allow("10.0.0.1")
	assert.Equal(t, 0, l.Prune(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, l.Prune(time.Now().Add(time.Second)))
	assert.Equal(t, 0, l.Len())
}
