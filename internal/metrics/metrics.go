// Package metrics implements the in-memory, per-endpoint observation
// buckets described in spec section 4.11: monotone counters, a
// bounded ring of recent latencies, and percentile statistics derived
// from a single sorted copy on read.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hr-knowledge-base/rag-core/internal/clock"
)

// RingSize is the maximum number of latency samples retained per bucket.
const RingSize = 1000

// RetentionDefault is the age at which a bucket resets, yielding
// hourly rolling statistics without background sweeping. Overridable
// via config.METRICS_RETENTION (SPEC_FULL section 4.3).
const RetentionDefault = time.Hour

type bucket struct {
	count         int64
	errors        int64
	rateLimitHits int64
	latencies     []float64 // ring buffer, append-then-wrap
	next          int       // next write position once full
	periodStart   time.Time
}

// Snapshot is a read-only view of a bucket's derived statistics.
type Snapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	RateLimitHits int64   `json:"rate_limit_hits"`
	ErrorRate     float64 `json:"error_rate"`
	P50           float64 `json:"p50"`
	P95           float64 `json:"p95"`
	P99           float64 `json:"p99"`
	Avg           float64 `json:"avg"`
}

// Registry owns one bucket per endpoint name.
type Registry struct {
	mu        sync.Mutex
	clock     clock.Clock
	retention time.Duration
	buckets   map[string]*bucket
}

func NewRegistry() *Registry {
	return NewRegistryWithClock(clock.Real{}, RetentionDefault)
}

func NewRegistryWithClock(c clock.Clock, retention time.Duration) *Registry {
	return &Registry{
		clock:     c,
		retention: retention,
		buckets:   make(map[string]*bucket),
	}
}

func (r *Registry) bucketFor(endpoint string) *bucket {
	now := r.clock.Now()
	b, ok := r.buckets[endpoint]
	if !ok {
		b = &bucket{periodStart: now}
		r.buckets[endpoint] = b
		return b
	}
	if now.Sub(b.periodStart) > r.retention {
		*b = bucket{periodStart: now}
	}
	return b
}

// Observe records one completed request: whether it errored, and its
// latency in milliseconds.
func (r *Registry) Observe(endpoint string, isError bool, latencyMs float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucketFor(endpoint)
	b.count++
	if isError {
		b.errors++
	}
	appendRing(b, latencyMs)
}

// ObserveRateLimitHit records a 429 without counting it as a normal
// request (the spec's rateLimitHits is a separate counter).
func (r *Registry) ObserveRateLimitHit(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bucketFor(endpoint)
	b.rateLimitHits++
}

func appendRing(b *bucket, v float64) {
	if len(b.latencies) < RingSize {
		b.latencies = append(b.latencies, v)
		return
	}
	b.latencies[b.next] = v
	b.next = (b.next + 1) % RingSize
}

// Snapshot returns the derived statistics for every known endpoint.
func (r *Registry) Snapshot() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Snapshot, len(r.buckets))
	for name, b := range r.buckets {
		out[name] = snapshotBucket(b)
	}
	return out
}

// SnapshotOne returns the statistics for a single endpoint, creating
// an empty bucket if none exists yet (so a freshly-started process
// still reports zeros instead of a missing key).
func (r *Registry) SnapshotOne(endpoint string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucketFor(endpoint)
	return snapshotBucket(b)
}

// FormatText renders a snapshot as Prometheus-style text exposition
// lines, for clients that prefer text/plain over the JSON shape — see
// SPEC_FULL section 4.2. No metrics-export library is introduced; the
// pack carries none, so this is hand-formatted text over the same
// snapshot the JSON endpoint serves.
func FormatText(snapshot map[string]Snapshot) string {
	endpoints := make([]string, 0, len(snapshot))
	for endpoint := range snapshot {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)

	var b strings.Builder
	for _, endpoint := range endpoints {
		s := snapshot[endpoint]
		fmt.Fprintf(&b, "rag_requests_total{endpoint=%q} %d\n", endpoint, s.Count)
		fmt.Fprintf(&b, "rag_errors_total{endpoint=%q} %d\n", endpoint, s.Errors)
		fmt.Fprintf(&b, "rag_rate_limit_hits_total{endpoint=%q} %d\n", endpoint, s.RateLimitHits)
		fmt.Fprintf(&b, "rag_error_rate{endpoint=%q} %g\n", endpoint, s.ErrorRate)
		fmt.Fprintf(&b, "rag_latency_p50_ms{endpoint=%q} %g\n", endpoint, s.P50)
		fmt.Fprintf(&b, "rag_latency_p95_ms{endpoint=%q} %g\n", endpoint, s.P95)
		fmt.Fprintf(&b, "rag_latency_p99_ms{endpoint=%q} %g\n", endpoint, s.P99)
		fmt.Fprintf(&b, "rag_latency_avg_ms{endpoint=%q} %g\n", endpoint, s.Avg)
	}
	return b.String()
}

func snapshotBucket(b *bucket) Snapshot {
	n := len(b.latencies)
	if n == 0 {
		return Snapshot{
			Count:         b.count,
			Errors:        b.errors,
			RateLimitHits: b.rateLimitHits,
			ErrorRate:     errorRate(b.errors, b.count),
		}
	}

	sorted := make([]float64, n)
	copy(sorted, b.latencies)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Snapshot{
		Count:         b.count,
		Errors:        b.errors,
		RateLimitHits: b.rateLimitHits,
		ErrorRate:     errorRate(b.errors, b.count),
		P50:           percentile(sorted, 50),
		P95:           percentile(sorted, 95),
		P99:           percentile(sorted, 99),
		Avg:           sum / float64(n),
	}
}

func errorRate(errs, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return float64(errs) / float64(count)
}

// percentile implements the exact rule from spec section 4.11:
// sorted[ceil((p/100)*n) - 1], clamped to [0, n-1].
func percentile(sorted []float64, p int) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := ceilDiv(p*n, 100) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
