// Package db owns the connection pool and every path into it. Store code never
// touches *sqlx.DB directly, it runs inside an Executor call which bounds
// connection acquisition, classifies failures and retries transient ones.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/AdamBeresnev/bracket-engine/internal/config"
	"github.com/AdamBeresnev/bracket-engine/internal/health"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
)

const (
	DefaultAcquireTimeout = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = time.Second
	DefaultMultiplier     = 2.0

	// maxTxAttempts caps transaction retries, a retried unit of work repeats every statement
	maxTxAttempts = 2
	maxRetryDelay = time.Minute
)

// Queryer is satisfied by *sqlx.Conn, *sqlx.Tx and *sqlx.DB.
type Queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(query string) string
}

// Query is a single statement with its bound arguments.
type Query struct {
	SQL  string
	Args []any
}

// Policy is the acquisition and retry discipline applied to every call.
type Policy struct {
	AcquireTimeout time.Duration
	MaxAttempts    int
	InitialDelay   time.Duration
	Multiplier     float64
}

func DefaultPolicy() Policy {
	return Policy{
		AcquireTimeout: DefaultAcquireTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		InitialDelay:   DefaultInitialDelay,
		Multiplier:     DefaultMultiplier,
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		AcquireTimeout: cfg.AcquireTimeout(),
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialDelay:   cfg.RetryInitialDelay(),
		Multiplier:     cfg.RetryBackoffMultiplier,
	}
}

type Executor struct {
	db      *sqlx.DB
	monitor *health.Monitor
	policy  Policy
}

// NewExecutor wraps database. monitor may be nil, in which case calls are never
// short-circuited.
func NewExecutor(database *sqlx.DB, monitor *health.Monitor, policy Policy) *Executor {
	if policy.AcquireTimeout <= 0 {
		policy.AcquireTimeout = DefaultAcquireTimeout
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	return &Executor{db: database, monitor: monitor, policy: policy}
}

type callOptions struct {
	maxAttempts    int
	retryIf        func(*apperror.Error) bool
	acquireTimeout time.Duration
	fallback       func(ctx context.Context) error
	query          string
}

type CallOption func(*callOptions)

// NoRetry runs the call exactly once.
func NoRetry() CallOption {
	return func(o *callOptions) { o.maxAttempts = 1 }
}

func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// RetryIf replaces the kind-based retry decision for this call.
func RetryIf(pred func(*apperror.Error) bool) CallOption {
	return func(o *callOptions) { o.retryIf = pred }
}

func WithAcquireTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.acquireTimeout = d
		}
	}
}

// WithFallback supplies the path taken while the datastore is degraded.
func WithFallback(fn func(ctx context.Context) error) CallOption {
	return func(o *callOptions) { o.fallback = fn }
}

func (e *Executor) options(defaultAttempts int, opts []CallOption) callOptions {
	o := callOptions{
		maxAttempts:    defaultAttempts,
		acquireTimeout: e.policy.AcquireTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o callOptions) shouldRetry(err *apperror.Error) bool {
	if o.retryIf != nil {
		return o.retryIf(err)
	}
	return err.Retryable()
}

// Run hands fn a pooled connection for the duration of one attempt. fn may
// issue several statements; they are not atomic, use InTx for that.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context, q Queryer) error, opts ...CallOption) error {
	o := e.options(e.policy.MaxAttempts, opts)
	return e.execute(ctx, op, o, func(ctx context.Context) error {
		return e.withConn(ctx, op, o, func(conn *sqlx.Conn) error {
			return fn(ctx, conn)
		})
	})
}

// Exec runs a single statement and returns the number of affected rows.
func (e *Executor) Exec(ctx context.Context, op string, q Query, opts ...CallOption) (int64, error) {
	var affected int64
	err := e.Run(ctx, op, func(ctx context.Context, conn Queryer) error {
		res, err := conn.ExecContext(ctx, conn.Rebind(q.SQL), q.Args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, append([]CallOption{withQuery(q.SQL)}, opts...)...)
	return affected, err
}

func (e *Executor) Get(ctx context.Context, op string, dest any, q Query, opts ...CallOption) error {
	return e.Run(ctx, op, func(ctx context.Context, conn Queryer) error {
		return sqlx.GetContext(ctx, conn, dest, conn.Rebind(q.SQL), q.Args...)
	}, append([]CallOption{withQuery(q.SQL)}, opts...)...)
}

func (e *Executor) Select(ctx context.Context, op string, dest any, q Query, opts ...CallOption) error {
	return e.Run(ctx, op, func(ctx context.Context, conn Queryer) error {
		return sqlx.SelectContext(ctx, conn, dest, conn.Rebind(q.SQL), q.Args...)
	}, append([]CallOption{withQuery(q.SQL)}, opts...)...)
}

func withQuery(sql string) CallOption {
	return func(o *callOptions) { o.query = sql }
}

// execute layers degraded-mode handling, retries and metrics around attempt.
func (e *Executor) execute(ctx context.Context, op string, o callOptions, attempt func(ctx context.Context) error) error {
	start := time.Now()

	var fallback func(ctx context.Context) (struct{}, error)
	if o.fallback != nil {
		fallback = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.fallback(ctx)
		}
	}

	// Domain outcomes must not be judged by the monitor, so they bypass it
	var domainErr error
	_, err := health.Execute(ctx, e.monitor, op, func(ctx context.Context) (struct{}, error) {
		err := e.retry(ctx, op, o, attempt)
		if inner, ok := unwrapAbort(err); ok {
			domainErr = inner
			return struct{}{}, nil
		}
		return struct{}{}, err
	}, fallback)
	if err == nil {
		err = domainErr
	}

	metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	record(op, err, domainErr != nil, ctx.Err() != nil)
	return err
}

func record(op string, err error, domain, cancelled bool) {
	switch {
	case err == nil:
		metrics.DBQueriesTotal.WithLabelValues(op, "ok").Inc()
	case domain:
		metrics.DBQueriesTotal.WithLabelValues(op, "rejected").Inc()
	case cancelled:
		metrics.DBQueriesTotal.WithLabelValues(op, "cancelled").Inc()
	default:
		metrics.DBQueriesTotal.WithLabelValues(op, "error").Inc()
		metrics.DBErrorsTotal.WithLabelValues(apperror.KindOf(err).String()).Inc()
	}
}

func (e *Executor) retry(ctx context.Context, op string, o callOptions, attempt func(ctx context.Context) error) error {
	failures := 0
	var lastKind apperror.Kind

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if _, ok := unwrapAbort(err); ok {
			return struct{}{}, backoff.Permanent(err)
		}
		if done := callerDone(ctx, op); done != nil {
			return struct{}{}, backoff.Permanent(done)
		}

		failures++
		appErr := asAppError(op, o.query, err)
		lastKind = appErr.Kind
		if !o.shouldRetry(appErr) {
			return struct{}{}, backoff.Permanent(appErr)
		}
		return struct{}{}, appErr
	},
		backoff.WithBackOff(newBackOff(e.policy)),
		backoff.WithMaxTries(uint(o.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.DBRetriesTotal.WithLabelValues(op, lastKind.String()).Inc()
			slog.Warn("Retrying datastore operation",
				"op", op,
				"attempt", failures,
				"max_attempts", o.maxAttempts,
				"next_delay", next,
				"kind", lastKind.String(),
			)
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	if err == nil {
		if failures > 0 {
			metrics.DBRecoveredTotal.WithLabelValues(op).Inc()
			slog.Info("Datastore operation recovered after retry", "op", op, "failures", failures)
		}
		return nil
	}
	if _, ok := unwrapAbort(err); ok {
		return err
	}
	// Retry returns the raw context error when ctx ends between attempts
	if done := callerDone(ctx, op); done != nil {
		return done
	}
	return asAppError(op, o.query, err)
}

// callerDone returns the caller's own cancellation or deadline, unclassified.
// Only the acquire timeout counts as a datastore timeout.
func callerDone(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func newBackOff(p Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryDelay
	return b
}

// withConn acquires a connection within the call's timeout and always releases it.
func (e *Executor) withConn(ctx context.Context, op string, o callOptions, fn func(conn *sqlx.Conn) error) error {
	conn, err := e.acquire(ctx, op, o)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		if _, ok := unwrapAbort(err); ok {
			return err
		}
		return asAppError(op, o.query, err)
	}
	return nil
}

func (e *Executor) acquire(ctx context.Context, op string, o callOptions) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, o.acquireTimeout)
	defer cancel()

	conn, err := e.db.Connx(acquireCtx)
	if err == nil {
		return conn, nil
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		bag := map[string]string{
			apperror.CtxOperation: op,
			apperror.CtxTimeout:   strconv.FormatInt(o.acquireTimeout.Milliseconds(), 10),
		}
		if o.query != "" {
			bag[apperror.CtxQuery] = apperror.Truncate(o.query)
		}
		return nil, apperror.WrapWithContext(
			apperror.KindTimeout,
			fmt.Sprintf("%s: no connection acquired within %s", op, o.acquireTimeout),
			bag,
			err,
		)
	}
	if done := callerDone(ctx, op); done != nil {
		return nil, done
	}
	return nil, asAppError(op, o.query, err)
}

// asAppError classifies a raw failure. Errors that are already classified pass
// through untouched so the innermost context wins.
func asAppError(op, query string, err error) *apperror.Error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	d := apperror.Describe(err)
	bag := map[string]string{apperror.CtxOperation: op}
	if query != "" {
		bag[apperror.CtxQuery] = apperror.Truncate(query)
	}
	if d.Code != "" {
		bag[apperror.CtxDriverCode] = d.Code
	}
	return apperror.WrapWithContext(apperror.Classify(d), fmt.Sprintf("%s: %v", op, err), bag, err)
}
