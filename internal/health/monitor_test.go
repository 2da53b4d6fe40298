package health

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs swaps the default logger for the duration of the test
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return out
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	var calls atomic.Int32
	monitor := NewMonitor(func(ctx context.Context, silent bool) bool {
		calls.Add(1)
		return true
	}, 10*time.Millisecond)

	monitor.Start()
	monitor.Start()

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	monitor.Stop()
	monitor.Stop()

	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "probe must not run after Stop")

	// Restart after stop works
	monitor.Start()
	assert.Eventually(t, func() bool { return calls.Load() > stopped }, time.Second, 5*time.Millisecond)
	monitor.Stop()
}

func TestMonitorFirstProbeIsNotSilent(t *testing.T) {
	var mu sync.Mutex
	var flags []bool
	monitor := NewMonitor(func(ctx context.Context, silent bool) bool {
		mu.Lock()
		flags = append(flags, silent)
		mu.Unlock()
		return true
	}, 10*time.Millisecond)

	monitor.Start()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flags) >= 2
	}, time.Second, 5*time.Millisecond)
	monitor.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, flags[0])
	assert.True(t, flags[1])
}

func TestMonitorLogsOnlyOnEdges(t *testing.T) {
	logs := captureLogs(t)

	results := []bool{true, false, false, false, true, true}
	i := 0
	monitor := NewMonitor(func(ctx context.Context, silent bool) bool {
		r := results[i]
		i++
		return r
	}, time.Minute)

	for range results {
		monitor.CheckNow(context.Background())
	}

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "degraded mode on"))
	assert.Equal(t, 1, strings.Count(out, "degraded mode off"))

	status := monitor.Status()
	assert.True(t, status.Available)
	assert.False(t, status.Degraded)
	assert.WithinDuration(t, time.Now(), status.LastCheck, time.Second)
}

func TestMonitorRecoversThroughProbe(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	monitor := NewMonitor(func(ctx context.Context, silent bool) bool {
		return up.Load()
	}, 5*time.Millisecond)
	monitor.Start()
	defer monitor.Stop()

	up.Store(false)
	assert.Eventually(t, monitor.IsDegraded, time.Second, 5*time.Millisecond)

	up.Store(true)
	assert.Eventually(t, func() bool { return !monitor.IsDegraded() }, time.Second, 5*time.Millisecond)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	timeoutErr := apperror.New(apperror.KindTimeout, "acquire")
	queryErr := apperror.New(apperror.KindQueryFailed, "bad sql")

	t.Run("healthy runs primary", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)
		v, err := Execute(ctx, monitor, "op", func(context.Context) (int, error) { return 7, nil }, nil)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("degraded without fallback fails fast", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)
		monitor.MarkDegraded("setup", nil)

		called := false
		_, err := Execute(ctx, monitor, "join tournament", func(context.Context) (int, error) {
			called = true
			return 0, nil
		}, nil)

		require.Error(t, err)
		assert.False(t, called)
		var appErr *apperror.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperror.KindConnectionFailed, appErr.Kind)
		assert.Equal(t, "join tournament", appErr.Context[apperror.CtxOperation])
	})

	t.Run("degraded with fallback", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)
		monitor.MarkDegraded("setup", nil)

		v, err := Execute(ctx, monitor, "get bracket",
			func(context.Context) (string, error) { return "db", nil },
			func(context.Context) (string, error) { return "cache", nil })
		require.NoError(t, err)
		assert.Equal(t, "cache", v)
	})

	t.Run("fallback failure is wrapped", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)
		monitor.MarkDegraded("setup", nil)
		cacheMiss := errors.New("cache miss")

		_, err := Execute(ctx, monitor, "get bracket",
			func(context.Context) (string, error) { return "db", nil },
			func(context.Context) (string, error) { return "", cacheMiss })
		require.Error(t, err)
		assert.Equal(t, apperror.KindFallbackFailed, apperror.KindOf(err))
		assert.ErrorIs(t, err, cacheMiss)
	})

	t.Run("transient failure trips degraded mode", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)

		_, err := Execute(ctx, monitor, "op", func(context.Context) (int, error) { return 0, timeoutErr }, nil)
		assert.Same(t, timeoutErr, err)
		assert.True(t, monitor.IsDegraded())

		// Subsequent calls never reach the primary
		calls := 0
		_, err = Execute(ctx, monitor, "op", func(context.Context) (int, error) {
			calls++
			return 0, nil
		}, nil)
		assert.Error(t, err)
		assert.Zero(t, calls)
	})

	t.Run("transient failure falls back after tripping", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)

		v, err := Execute(ctx, monitor, "op",
			func(context.Context) (int, error) { return 0, timeoutErr },
			func(context.Context) (int, error) { return 42, nil })
		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.True(t, monitor.IsDegraded())
	})

	t.Run("non transient failure keeps monitor healthy", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)

		_, err := Execute(ctx, monitor, "op", func(context.Context) (int, error) { return 0, queryErr }, nil)
		assert.Same(t, queryErr, err)
		assert.False(t, monitor.IsDegraded())
	})

	t.Run("caller deadline keeps monitor healthy", func(t *testing.T) {
		monitor := NewMonitor(func(context.Context, bool) bool { return true }, time.Minute)
		callerCtx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Execute(callerCtx, monitor, "op", func(context.Context) (int, error) { return 0, timeoutErr }, nil)
		assert.Same(t, timeoutErr, err)
		assert.False(t, monitor.IsDegraded())
	})

	t.Run("nil monitor runs primary", func(t *testing.T) {
		v, err := Execute(ctx, nil, "op", func(context.Context) (int, error) { return 1, nil }, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	})
}
