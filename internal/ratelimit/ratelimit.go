// Package ratelimit implements the per-(endpoint, token) sliding
// window described in spec section 4.3. The in-memory implementation
// is grounded on the mutex-guarded counter-state struct shape of
// custodia-labs-sercha-cli's outbound GitHub rate limiter, adapted
// from an outbound single-key limiter to an inbound multi-key one.
package ratelimit

import (
	"sync"
	"time"

	"github.com/hr-knowledge-base/rag-core/internal/clock"
)

// Endpoint identifies which fixed policy applies.
type Endpoint string

const (
	Chat     Endpoint = "chat"
	Retrieve Endpoint = "retrieve"
)

// Window is the sliding-window length shared by every policy.
const Window = 60 * time.Second

// Policy is the (endpoint -> max requests per Window) table.
var Policy = map[Endpoint]int{
	Chat:     20,
	Retrieve: 60,
}

// Result is the outcome of a single Allow check.
type Result struct {
	Allowed           bool
	Remaining         int
	RetryAfterSeconds int64
}

// Limiter is the abstraction spec section 9 asks to be kept behind an
// interface so the backing store can be swapped (in-memory today,
// Redis for multi-instance deployments — see internal/ratelimit/redis).
type Limiter interface {
	Allow(endpoint Endpoint, token string) Result
}

type key struct {
	endpoint Endpoint
	token    string
}

// Memory is the default single-process Limiter: one lock over the
// whole table. Per spec, operations are O(window-size) and short, so
// a single lock is sufficient; sharding is not needed at this scale.
type Memory struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	policy map[Endpoint]int
	table  map[key][]time.Time
}

// NewMemory builds a Memory limiter using the real clock and the
// default policy table.
func NewMemory() *Memory {
	return NewMemoryWithClock(clock.Real{})
}

// NewMemoryWithClock allows tests to inject a fake clock.
func NewMemoryWithClock(c clock.Clock) *Memory {
	return &Memory{
		clock:  c,
		window: Window,
		policy: Policy,
		table:  make(map[key][]time.Time),
	}
}

// Allow prunes timestamps outside the window, then admits or rejects
// the request per spec section 4.3. Empty keys are removed from the
// table so memory is bounded by the number of active tokens.
func (m *Memory) Allow(endpoint Endpoint, token string) Result {
	max, ok := m.policy[endpoint]
	if !ok {
		// Endpoints outside the policy table (metrics, health) are not
		// rate limited; always allow.
		return Result{Allowed: true}
	}

	now := m.clock.Now()
	cutoff := now.Add(-m.window)
	k := key{endpoint: endpoint, token: token}

	m.mu.Lock()
	defer m.mu.Unlock()

	timestamps := m.table[k]
	pruned := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) == 0 {
		delete(m.table, k)
	} else {
		m.table[k] = pruned
	}

	if len(pruned) >= max {
		oldest := pruned[0]
		retryAfter := oldest.Add(m.window).Sub(now)
		return Result{
			Allowed:           false,
			Remaining:         0,
			RetryAfterSeconds: ceilSeconds(retryAfter),
		}
	}

	pruned = append(pruned, now)
	m.table[k] = pruned

	return Result{
		Allowed:   true,
		Remaining: max - len(pruned),
	}
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int64(secs)
}

// String implements fmt.Stringer for Endpoint, used in logging.
func (e Endpoint) String() string { return string(e) }
