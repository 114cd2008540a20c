package pdfbot

import (
	"context"
	"time"
)

// Reaper is the background sweep enforcing the session TTL. It talks to the
// registry only through SweepCandidates and ExpireIfIdle.
type Reaper struct {
	registry *Registry
	interval time.Duration
	clock    Clock
	logger   Logger
}

// NewReaper creates a Reaper sweeping at the given interval.
func NewReaper(registry *Registry, interval time.Duration, clock Clock, logger Logger) *Reaper {
	return &Reaper{registry: registry, interval: interval, clock: clock, logger: logger}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep checks every known session once and expires the idle ones,
// including sessions persisted by a previous process run. A cleanup failure
// for one user is logged and does not stop the sweep. Returns the number of
// sessions expired.
func (r *Reaper) Sweep() int {
	now := r.clock.Now()
	candidates, err := r.registry.SweepCandidates()
	if err != nil {
		r.logger.Warn("listing sweep candidates", "error", err)
	}
	expired := 0
	for _, userID := range candidates {
		ok, err := r.registry.ExpireIfIdle(userID, now)
		if err != nil {
			r.logger.Warn("session expiry cleanup", "user", userID, "error", err)
		}
		if ok {
			expired++
			r.logger.Info("session expired", "user", userID)
		}
	}
	return expired
}
