package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served and whether the
// process is draining, so shutdown can wait for them and health can report it.
type InFlightTracker struct {
	count    atomic.Int64
	draining atomic.Bool
}

// Increment records a request start.
func (t *InFlightTracker) Increment() { t.count.Add(1) }

// Decrement records a request completion.
func (t *InFlightTracker) Decrement() { t.count.Add(-1) }

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// SetDraining marks the tracker as draining; /health reports shutting-down while set.
func (t *InFlightTracker) SetDraining(v bool) { t.draining.Store(v) }

// Draining reports whether shutdown has begun.
func (t *InFlightTracker) Draining() bool { return t.draining.Load() }

// WaitForZero polls every checkInterval until the count reaches zero or ctx is done.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if t.Count() == 0 {
		return nil
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if t.Count() == 0 {
				return nil
			}
		}
	}
}

// globalInFlightTracker is incremented by MetricsMiddleware for every routed request.
var globalInFlightTracker = &InFlightTracker{}

// BeginShutdown marks the process as draining. Call when SIGTERM/SIGINT is received.
func BeginShutdown() {
	globalInFlightTracker.SetDraining(true)
}

// IsShuttingDown reports whether BeginShutdown has been called.
func IsShuttingDown() bool {
	return globalInFlightTracker.Draining()
}

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return globalInFlightTracker.WaitForZero(ctx, checkInterval)
}
