package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance time deterministically without sleeping.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter() (*Memory, *fakeClock) {
	fc := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewMemoryWithClock(fc), fc
}

func TestAllow_AdmitsUpToLimit(t *testing.T) {
	m, _ := newTestLimiter()
	max := Policy[Retrieve]

	for i := 0; i < max; i++ {
		result := m.Allow(Retrieve, "token-a")
		require.True(t, result.Allowed, "request %d should be allowed", i)
	}

	result := m.Allow(Retrieve, "token-a")
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.RetryAfterSeconds, int64(0))
}

func TestAllow_RemainingCountsDown(t *testing.T) {
	m, _ := newTestLimiter()
	max := Policy[Chat]

	result := m.Allow(Chat, "token-b")
	assert.Equal(t, max-1, result.Remaining)

	result = m.Allow(Chat, "token-b")
	assert.Equal(t, max-2, result.Remaining)
}

func TestAllow_WindowSlidesOpen(t *testing.T) {
	m, fc := newTestLimiter()
	max := Policy[Chat]

	for i := 0; i < max; i++ {
		require.True(t, m.Allow(Chat, "token-c").Allowed)
	}
	require.False(t, m.Allow(Chat, "token-c").Allowed)

	fc.advance(Window + time.Second)

	result := m.Allow(Chat, "token-c")
	assert.True(t, result.Allowed)
	assert.Equal(t, max-1, result.Remaining)
}

func TestAllow_TokensAreIsolated(t *testing.T) {
	m, _ := newTestLimiter()
	max := Policy[Chat]

	for i := 0; i < max; i++ {
		require.True(t, m.Allow(Chat, "token-d").Allowed)
	}
	require.False(t, m.Allow(Chat, "token-d").Allowed)

	// A different token has its own independent window.
	result := m.Allow(Chat, "token-e")
	assert.True(t, result.Allowed)
}

func TestAllow_EndpointsAreIsolated(t *testing.T) {
	m, _ := newTestLimiter()
	max := Policy[Chat]

	for i := 0; i < max; i++ {
		require.True(t, m.Allow(Chat, "token-f").Allowed)
	}
	require.False(t, m.Allow(Chat, "token-f").Allowed)

	// Retrieve has its own policy/window, unaffected by chat's exhaustion.
	result := m.Allow(Retrieve, "token-f")
	assert.True(t, result.Allowed)
}

func TestAllow_UnknownEndpointAlwaysAllowed(t *testing.T) {
	m, _ := newTestLimiter()
	for i := 0; i < 1000; i++ {
		result := m.Allow(Endpoint("metrics"), "token-g")
		require.True(t, result.Allowed)
	}
}

func TestAllow_StaleKeyNotPrunedByOtherKeyAccess(t *testing.T) {
	m, fc := newTestLimiter()
	m.Allow(Chat, "token-h")

	m.mu.Lock()
	_, existsBeforePrune := m.table[key{endpoint: Chat, token: "token-h"}]
	m.mu.Unlock()
	require.True(t, existsBeforePrune)

	fc.advance(Window + time.Second)
	// An Allow on a DIFFERENT key does not touch token-h: its stale
	// entry stays in the table until token-h itself is accessed again.
	m.Allow(Chat, "token-i")
	m.mu.Lock()
	_, existsAfterOther := m.table[key{endpoint: Chat, token: "token-h"}]
	m.mu.Unlock()
	assert.True(t, existsAfterOther, "pruning is lazy, per-key, on access only")
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, int64(0), ceilSeconds(0))
	assert.Equal(t, int64(0), ceilSeconds(-time.Second))
	assert.Equal(t, int64(1), ceilSeconds(500*time.Millisecond))
	assert.Equal(t, int64(2), ceilSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(3), ceilSeconds(3*time.Second))
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "chat", Chat.String())
	assert.Equal(t, "retrieve", Retrieve.String())
}
