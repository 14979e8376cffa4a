package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"hkracing-scraper/pkg/config"
	"hkracing-scraper/pkg/utils"
)

// errTooManyRequests marks a single 429 response. It is retryable only under
// the rate-limit policy; exhaustion surfaces as utils.ErrRateLimited so the
// summary can distinguish throttling from outages.
var errTooManyRequests = errors.New("origin rate limited (429)")

// Policy bounds one class of retries. Two named policies exist: the network
// policy (exponential backoff on transient network errors) and the rate-limit
// policy (fixed backoff on 429s). Permanent conditions are fatal under both.
type Policy struct {
	Name         string
	MaxRetries   int           // retries beyond the first attempt
	InitialDelay time.Duration // first backoff; doubles per attempt unless FixedDelay
	MaxDelay     time.Duration // backoff cap
	FixedDelay   bool
	Retryable    func(error) bool
	Exhausted    error // sentinel wrapped around the last error when retries run out
}

// NetworkPolicy retries transient connection/timeout failures with
// exponential backoff (1s, 2s, 4s by default). HTTP status errors propagate
// immediately.
func NetworkPolicy(cfg *config.AppConfig) Policy {
	return Policy{
		Name:         "network",
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Retryable:    utils.IsTransientNetwork,
		Exhausted:    utils.ErrRetryFailed,
	}
}

// RateLimitPolicy retries 429 responses a small fixed number of times with a
// fixed backoff long enough to clear the origin's throttle window.
func RateLimitPolicy(cfg *config.AppConfig) Policy {
	return Policy{
		Name:         "rate-limit",
		MaxRetries:   cfg.RateLimitRetries,
		InitialDelay: cfg.RateLimitBackoff,
		MaxDelay:     cfg.RateLimitBackoff,
		FixedDelay:   true,
		Retryable:    func(err error) bool { return errors.Is(err, errTooManyRequests) },
		Exhausted:    utils.ErrRateLimited,
	}
}

// delay computes the backoff before retry attempt n (0-based).
func (p Policy) delay(attempt int) time.Duration {
	if p.FixedDelay {
		return p.InitialDelay
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt)))
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// RetryController wraps fetch operations with a bounded, auditable retry
// loop. Each attempt's outcome is classified explicitly: success returns,
// a non-retryable error returns immediately, a retryable error sleeps the
// policy's backoff and tries again until the attempt budget is spent.
type RetryController struct {
	log *logrus.Entry
}

// NewRetryController creates a RetryController.
func NewRetryController(log *logrus.Entry) *RetryController {
	return &RetryController{log: log}
}

// Do runs op under the given policy. op is attempted at most
// policy.MaxRetries+1 times. The backoff sleep respects ctx cancellation.
func (rc *RetryController) Do(ctx context.Context, name string, policy Policy, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("context cancelled (%v) during retries after error: %w", ctx.Err(), lastErr)
			}
			return ctx.Err()
		default:
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.Retryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.delay(attempt)
		rc.log.WithFields(logrus.Fields{
			"op":          name,
			"policy":      policy.Name,
			"attempt":     attempt + 1,
			"max_retries": policy.MaxRetries,
			"delay":       delay,
		}).Warnf("Retrying after error: %v", lastErr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
		}
	}

	return fmt.Errorf("%w: %w", policy.Exhausted, lastErr)
}
