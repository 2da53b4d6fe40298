// Package health tracks datastore reachability and decides when calls should
// be short-circuited instead of paying the acquisition timeout again.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
)

const DefaultInterval = 30 * time.Second

// ProbeFunc reports whether the datastore is reachable. silent suppresses the
// probe's own logging during routine polling.
type ProbeFunc func(ctx context.Context, silent bool) bool

// Status is a point-in-time copy of the monitor state.
type Status struct {
	Available bool      `json:"available"`
	Degraded  bool      `json:"degraded"`
	LastCheck time.Time `json:"last_check"`
}

// Monitor owns the degraded-mode flag. It is safe for concurrent use.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration

	mu        sync.RWMutex
	available bool
	degraded  bool
	lastCheck time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(probe ProbeFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		probe:     probe,
		interval:  interval,
		available: true,
	}
}

// Start runs the probe once immediately and then every interval until Stop.
// Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
}

// Stop halts the probe loop and waits for it to exit. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	slog.Info("Health monitor stopped")
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("Health monitor started", "interval", m.interval)
	m.check(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx, true)
		}
	}
}

// CheckNow runs the probe synchronously and applies its result.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	return m.check(ctx, false)
}

func (m *Monitor) check(ctx context.Context, silent bool) bool {
	ok := m.probe(ctx, silent)
	if ctx.Err() != nil {
		// Stopping mid-probe says nothing about the datastore
		return ok
	}
	m.apply(ok)
	return ok
}

func (m *Monitor) apply(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = ok
	m.lastCheck = time.Now()
	m.setDegradedLocked(!ok, "health check")
}

// MarkDegraded flips the monitor into degraded mode after an observed failure.
// The next successful probe clears it.
func (m *Monitor) MarkDegraded(op string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = false
	if !m.degraded {
		slog.Debug("Failure trips degraded mode", "op", op, "error", cause)
	}
	m.setDegradedLocked(true, op)
}

func (m *Monitor) setDegradedLocked(degraded bool, source string) {
	if m.degraded == degraded {
		return
	}
	m.degraded = degraded
	if degraded {
		metrics.DBDegraded.Set(1)
		slog.Warn("Datastore unavailable, degraded mode on", "source", source)
	} else {
		metrics.DBDegraded.Set(0)
		slog.Info("Datastore available again, degraded mode off", "source", source)
	}
}

func (m *Monitor) IsDegraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Available: m.available,
		Degraded:  m.degraded,
		LastCheck: m.lastCheck,
	}
}

// Execute runs primary unless the monitor is degraded. While degraded, fallback
// is used when given, otherwise the call fails fast with a connection-failed
// error. A primary failure of a transient storage kind flips the monitor before
// the error is returned or the fallback runs. A nil monitor always runs primary.
func Execute[T any](
	ctx context.Context,
	m *Monitor,
	op string,
	primary func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if m == nil {
		return primary(ctx)
	}

	if m.IsDegraded() {
		if fallback != nil {
			return runFallback(ctx, op, fallback)
		}
		return zero, apperror.WrapWithContext(
			apperror.KindConnectionFailed,
			op+": datastore unavailable (degraded mode)",
			map[string]string{apperror.CtxOperation: op},
			nil,
		)
	}

	result, err := primary(ctx)
	if err == nil {
		return result, nil
	}

	// A caller that gave up says nothing about the datastore
	if ctx.Err() == nil && tripsDegraded(apperror.ClassifyError(err)) {
		m.MarkDegraded(op, err)
		if fallback != nil {
			return runFallback(ctx, op, fallback)
		}
	}
	return zero, err
}

func runFallback[T any](ctx context.Context, op string, fallback func(ctx context.Context) (T, error)) (T, error) {
	result, err := fallback(ctx)
	if err != nil {
		var zero T
		return zero, apperror.WrapWithContext(
			apperror.KindFallbackFailed,
			op+": fallback failed",
			map[string]string{apperror.CtxOperation: op},
			err,
		)
	}
	return result, nil
}

func tripsDegraded(kind apperror.Kind) bool {
	switch kind {
	case apperror.KindConnectionFailed, apperror.KindTimeout, apperror.KindPoolExhausted:
		return true
	}
	return false
}
