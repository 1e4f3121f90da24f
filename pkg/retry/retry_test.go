package retry

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pixivdl/pkg/config"
	errs "pixivdl/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		RetryIf:     TransportOnly,
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, backoff.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialBackoffJitterBounds(t *testing.T) {
	backoff := &ExponentialBackoff{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}

	for i := 0; i < 50; i++ {
		d := backoff.NextDelay(2)
		assert.GreaterOrEqual(t, d, 140*time.Millisecond)
		assert.LessOrEqual(t, d, 260*time.Millisecond)
	}
}

func TestDoRetriesTransportErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errs.Transport(io.ErrUnexpectedEOF)
		}
		return nil
	}, fastConfig(5))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	var retried []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return errs.Transport(io.ErrUnexpectedEOF)
	}, cfg)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Contains(t, err.Error(), "max retry attempts (3) exceeded")
	assert.True(t, errs.Is(err, errs.ErrorTypeTransport))
}

func TestDoDoesNotRetryHTTPStatus(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return errs.HTTPStatus(404, "https://i.pximg.net/x.png")
	}, fastConfig(5))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 404, errs.StatusCode(err))
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxAttempts: 0,
		Backoff:     &ConstantBackoff{Delay: time.Hour},
		RetryIf:     TransportOnly,
	}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, func(context.Context) error {
			attempts++
			return errs.Transport(io.ErrUnexpectedEOF)
		}, cfg)
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	assert.Equal(t, 1, attempts)
}

func TestTransientAPI(t *testing.T) {
	assert.True(t, TransientAPI(errs.Transport(io.EOF)))
	assert.True(t, TransientAPI(errs.HTTPStatus(503, "u")))
	assert.True(t, TransientAPI(errs.HTTPStatus(429, "u")))
	assert.False(t, TransientAPI(errs.HTTPStatus(404, "u")))
	assert.False(t, TransientAPI(errs.Auth(401, "expired")))
	assert.False(t, TransientAPI(context.Canceled))
	assert.False(t, TransientAPI(nil))
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errs.Transport(io.ErrUnexpectedEOF)
		}
		return "ok", nil
	}, fastConfig(2))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DefaultConfig().Retry, nil)
	assert.Equal(t, 3, cfg.MaxAttempts)
	eb, ok := cfg.Backoff.(*ExponentialBackoff)
	require.True(t, ok)
	assert.Equal(t, time.Second, eb.BaseDelay)
	assert.Equal(t, 30*time.Second, eb.MaxDelay)
}

func TestWait(t *testing.T) {
	assert.NoError(t, Wait(context.Background(), 0))
	assert.NoError(t, Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
}
