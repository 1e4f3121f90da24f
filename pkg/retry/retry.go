// Package retry runs operations again after transient failures, waiting a
// jittered exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pixivdl/pkg/config"
	errs "pixivdl/pkg/errors"
	"pixivdl/pkg/logger"
)

// Operation is one attempt. The context is the caller's.
type Operation func(ctx context.Context) error

// Config holds retry configuration
type Config struct {
	// MaxAttempts bounds the total number of attempts, 0 means unlimited
	MaxAttempts int
	Backoff     BackoffStrategy
	// RetryIf decides whether an error earns another attempt
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns three attempts with exponential backoff, retrying
// transport errors only
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     TransportOnly,
	}
}

// FromConfig builds a retry Config from the application's retry section
func FromConfig(rc config.RetryConfig, log logger.Logger) *Config {
	return &Config{
		MaxAttempts: rc.MaxAttempts,
		Backoff: &ExponentialBackoff{
			BaseDelay:    rc.InitialBackoff,
			MaxDelay:     rc.MaxBackoff,
			Multiplier:   rc.Multiplier,
			JitterFactor: rc.JitterFactor,
		},
		RetryIf: TransportOnly,
		Logger:  log,
	}
}

// TransportOnly retries connection-level failures. HTTP status errors are
// final for asset downloads.
func TransportOnly(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}
	return errs.IsRetryable(errs.TypeOf(err))
}

// TransientAPI retries transport failures plus 429 and 5xx responses from
// feed endpoints
func TransientAPI(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}
	switch errs.TypeOf(err) {
	case errs.ErrorTypeTransport:
		return true
	case errs.ErrorTypeHTTPStatus, errs.ErrorTypeRateLimit:
		return errs.IsRetryableStatusCode(errs.StatusCode(err))
	default:
		return false
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done
func Do(ctx context.Context, op Operation, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = TransportOnly
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = DefaultExponentialBackoff()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}

		if !retryIf(err) {
			return err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts {
			log.WarnWithFields("max retry attempts exceeded", map[string]interface{}{
				"attempts":   attempt,
				"last_error": err.Error(),
			})
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, err)
		}

		delay := backoff.NextDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt,
			"error":        err.Error(),
			"delay_ms":     delay.Milliseconds(),
			"max_attempts": cfg.MaxAttempts,
		})

		if werr := Wait(ctx, delay); werr != nil {
			return fmt.Errorf("retry cancelled: %w", werr)
		}
	}
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, op func(ctx context.Context) (T, error), cfg *Config) (T, error) {
	var result T
	err := Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	}, cfg)
	return result, err
}
