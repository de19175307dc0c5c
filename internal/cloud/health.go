package cloud

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultHealthTTL = time.Minute

// HealthStatus is the last observed state of the inference service.
type HealthStatus struct {
	Healthy  bool      `json:"healthy"`
	Error    string    `json:"error,omitempty"`
	ProbedAt time.Time `json:"probed_at"`
}

type healthProber interface {
	Health(ctx context.Context) error
}

// CachedHealth rate-limits health probes of the inference service so status
// polling does not hit it on every request.
type CachedHealth struct {
	client healthProber
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	cached *HealthStatus
}

func NewCachedHealth(client healthProber, logger *slog.Logger) *CachedHealth {
	return &CachedHealth{
		client: client,
		ttl:    defaultHealthTTL,
		logger: logger,
	}
}

// Get returns the cached status if fresh, otherwise probes again.
func (h *CachedHealth) Get(ctx context.Context) HealthStatus {
	h.mu.Lock()
	if h.cached != nil && time.Since(h.cached.ProbedAt) < h.ttl {
		status := *h.cached
		h.mu.Unlock()
		return status
	}
	h.mu.Unlock()

	return h.Refresh(ctx)
}

// Refresh probes regardless of cache freshness.
func (h *CachedHealth) Refresh(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, ProbedAt: time.Now()}
	if err := h.client.Health(ctx); err != nil {
		h.logger.Warn("inference health probe failed", "error", err)
		status.Healthy = false
		status.Error = err.Error()
	}

	h.mu.Lock()
	h.cached = &status
	h.mu.Unlock()
	return status
}
