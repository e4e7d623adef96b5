package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func TestDo_SucceedsAfterRetryableFailures(t *testing.T) {
	calls := 0
	var attempts []int

	r := New(WithMaxAttempts(5), WithInitialDelay(0))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		attempts = append(attempts, AttemptFromContext(ctx))
		if calls < 3 {
			return Retryable(errConflict)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestDo_ExhaustedWrapsLastError(t *testing.T) {
	calls := 0
	r := New(WithMaxAttempts(3), WithInitialDelay(0))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errConflict)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errConflict)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	plain := errors.New("bad input")

	err := New(WithMaxAttempts(5), WithInitialDelay(0)).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return plain
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, plain, err)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	r := New(WithMaxAttempts(5), WithRetryIf(func(error) bool { return true }))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		return Permanent(errConflict)
	})

	assert.Same(t, errConflict, err)
}

func TestDo_RetryIfAndOnRetry(t *testing.T) {
	var retried []int
	calls := 0

	r := New(
		WithInitialDelay(0),
		WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }),
		WithOnRetry(func(attempt int, err error, delay time.Duration) { retried = append(retried, attempt) }),
	)
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1}, retried)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), New(WithInitialDelay(0)), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errConflict)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestDatabaseRetrier(t *testing.T) {
	errRefused := errors.New("connection refused")
	errAuth := errors.New("password authentication failed")
	transient := func(err error) bool { return errors.Is(err, errRefused) }

	r := DatabaseRetrier(transient, WithInitialDelay(0))
	assert.Equal(t, 3, r.MaxAttempts())

	calls := 0
	_, err := DoWithData(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "", errRefused
	})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)

	calls = 0
	_, err = DoWithData(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		return "", errAuth
	})
	assert.Equal(t, 1, calls)
	assert.Same(t, errAuth, err)
}

func TestLedgerRetrier(t *testing.T) {
	r := LedgerRetrier(4, 0, func(err error) bool { return errors.Is(err, errConflict) })
	assert.Equal(t, 4, r.MaxAttempts())

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errConflict
	})
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, ErrExhausted)
}
