// Package health implements the checks described in spec section
// 4.12: a trivial store read, vector-extension presence, and a cached
// or skipped embedder probe. Grounded on the teacher's
// store/storage.go::NewPostgresStore (pool.Ping) and its
// "CREATE EXTENSION IF NOT EXISTS vector" assumption, made explicit
// here as a runtime check.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/hr-knowledge-base/rag-core/internal/collaborators"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Report is the /api/v1/health response body. Provider names and
// version strings are intentionally omitted, per spec policy.
type Report struct {
	Status         Status  `json:"status"`
	StoreOK        bool    `json:"store_ok"`
	StoreLatencyMs float64 `json:"store_latency_ms"`
	VectorExtOK    bool    `json:"vector_extension_ok"`
	EmbedderOK     bool    `json:"embedder_ok"`
}

// Checker runs the three checks and caches the embedder probe so
// health checks stay cheap under polling.
type Checker struct {
	store    collaborators.VectorStore
	embedder collaborators.Embedder

	probeInterval time.Duration
	mu            sync.Mutex
	lastProbe     time.Time
	lastProbeOK   bool
	probed        bool
}

func NewChecker(store collaborators.VectorStore, embedder collaborators.Embedder) *Checker {
	return &Checker{store: store, embedder: embedder, probeInterval: 5 * time.Minute}
}

func (c *Checker) Check(ctx context.Context) Report {
	storeOK, latency, err := c.store.Ping(ctx)
	if err != nil {
		storeOK = false
	}

	if !storeOK {
		return Report{Status: StatusUnhealthy, StoreOK: false, StoreLatencyMs: latency}
	}

	vectorExtOK, _ := c.store.HasVectorExtension(ctx)
	embedderOK := c.embedderProbe(ctx)

	status := StatusOK
	if !vectorExtOK || !embedderOK {
		status = StatusDegraded
	}

	return Report{
		Status:         status,
		StoreOK:        storeOK,
		StoreLatencyMs: latency,
		VectorExtOK:    vectorExtOK,
		EmbedderOK:     embedderOK,
	}
}

// embedderProbe either reuses a cached result within probeInterval or
// performs (and caches) a fresh one-token embedding call.
func (c *Checker) embedderProbe(ctx context.Context) bool {
	c.mu.Lock()
	if c.probed && time.Since(c.lastProbe) < c.probeInterval {
		ok := c.lastProbeOK
		c.mu.Unlock()
		return ok
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.embedder.Embed(probeCtx, []string{"healthcheck"})
	ok := err == nil

	c.mu.Lock()
	c.lastProbe = time.Now()
	c.lastProbeOK = ok
	c.probed = true
	c.mu.Unlock()

	return ok
}
