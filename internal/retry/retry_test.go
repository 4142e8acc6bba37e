package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Fixed(3, 0).Do(context.Background(), func(attempt int) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	var seen []int
	err := Fixed(3, 0).Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errBoom
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	retried := 0
	p := Fixed(4, time.Millisecond)
	p.OnRetry = func(attempt int, err error) { retried++ }

	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 3, retried)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	p := Fixed(5, 0)
	p.Retryable = func(err error) bool { return !errors.Is(err, errBoom) }

	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Fixed(0, 0).Do(context.Background(), func(attempt int) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Fixed(10, 50*time.Millisecond).Do(ctx, func(attempt int) error {
		calls++
		cancel()
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
