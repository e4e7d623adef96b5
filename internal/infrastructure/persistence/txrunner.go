// Package persistence holds what the ledger store backends share: the
// conflict-retrying transaction runner.
package persistence

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/pkg/logger"
	"github.com/medquest/study-hub/pkg/retry"
)

// DefaultMaxAttempts bounds conflict retries when RetryConfig leaves it unset.
const DefaultMaxAttempts = 5

// RetryConfig tunes conflict handling.
type RetryConfig struct {
	// MaxAttempts counts the first try. Values below 1 use DefaultMaxAttempts.
	MaxAttempts int
	// InitialBackoff is the wait before the second attempt. Zero retries immediately.
	InitialBackoff time.Duration
}

// TxRunner re-executes a transaction attempt while it fails with
// shared.ErrStoreConflict. Exhausting the budget yields StoreUnavailable.
type TxRunner struct {
	backend string
	retrier *retry.Retrier
	log     *logger.Logger
	tracer  trace.Tracer
}

// NewTxRunner creates a runner for the named backend.
func NewTxRunner(backend string, cfg RetryConfig, log *logger.Logger) *TxRunner {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("ledger-" + backend))

	r := &TxRunner{
		backend: backend,
		log:     log,
		tracer:  otel.Tracer("github.com/medquest/study-hub/ledger"),
	}
	r.retrier = retry.LedgerRetrier(cfg.MaxAttempts, cfg.InitialBackoff, retryable,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("ledger transaction conflict, retrying",
				logger.Attempt(attempt),
				logger.Duration("backoff", delay),
				logger.Err(err),
			)
		}),
	)
	return r
}

// MaxAttempts returns the configured attempt bound.
func (r *TxRunner) MaxAttempts() int {
	return r.retrier.MaxAttempts()
}

// retryable retries conflicts only. An unavailable error that wraps a
// conflict (an exhausted nested runner) is terminal.
func retryable(err error) bool {
	return shared.IsConflict(err) && !shared.IsUnavailable(err)
}

// Run executes attempt until it commits, fails with a non-conflict error, or
// the attempt budget is spent. Each attempt gets its own span.
func (r *TxRunner) Run(ctx context.Context, op string, userID shared.UserID, attempt func(ctx context.Context) error) error {
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		n := retry.AttemptFromContext(ctx)
		ctx, span := r.tracer.Start(ctx, "ledger."+op,
			trace.WithAttributes(
				attribute.String("ledger.backend", r.backend),
				attribute.String("user.id", userID.String()),
				attribute.Int("ledger.attempt", n),
			),
		)
		defer span.End()

		err := attempt(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	})
	if err == nil {
		return nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) || retryable(err) {
		r.log.Error("ledger transaction gave up",
			logger.Operation(op),
			logger.UserID(userID.String()),
			logger.Int("max_attempts", r.retrier.MaxAttempts()),
			logger.Err(err),
		)
		return shared.StoreUnavailable(op, err)
	}
	return err
}
