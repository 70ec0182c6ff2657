// ABOUTME: Heartbeat prober that pings clients and evicts the unresponsive.
// ABOUTME: A client is evicted after one full interval without answering a ping.

package transport

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPingInterval is how often clients are probed when unset.
const DefaultPingInterval = 30 * time.Second

// ReasonLivenessTimeout is the disconnect reason for evicted clients.
const ReasonLivenessTimeout = "liveness timeout"

// Prober periodically probes every connection in a Registry.
type Prober struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
}

// NewProber creates a Prober. A non-positive interval uses DefaultPingInterval.
func NewProber(registry *Registry, interval time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	return &Prober{
		registry: registry,
		interval: interval,
		logger:   logger.With("component", "liveness"),
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("liveness prober started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("liveness prober stopped")
			return nil
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep evicts every connection that did not answer the previous probe and
// probes the rest. Returns the IDs of evicted connections.
func (p *Prober) Sweep(ctx context.Context) []string {
	var evicted []string
	for _, conn := range p.registry.List() {
		if !conn.Alive() {
			_ = conn.Terminate()
			if p.registry.Remove(ctx, conn.ID, ReasonLivenessTimeout) {
				evicted = append(evicted, conn.ID)
			}
			continue
		}
		if err := conn.probe(); err != nil {
			p.logger.Debug("ping failed", "client_id", conn.ID, "error", err)
		}
	}
	if len(evicted) > 0 {
		p.logger.Warn("evicted unresponsive clients", "count", len(evicted), "clients", evicted)
	}
	return evicted
}
