package fetch

import (
	"context"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdaptiveRateLimiter delays outbound requests based on URL path locality.
// Requests to the path just used (differing only in query parameters) are
// cheap to the origin and get the short delay; switching paths looks like
// distinct navigation and is throttled with the long delay. The first request
// on a fresh limiter never waits.
//
// One limiter is shared by all workers of a run; the last-path state is a
// mutex-guarded read-modify-write, and the lock is held across the sleep so
// concurrent callers serialize through the gate in order.
type AdaptiveRateLimiter struct {
	samePathDelay   time.Duration
	pathChangeDelay time.Duration

	mu          sync.Mutex
	lastPath    string
	lastRequest time.Time

	log *logrus.Entry
}

// NewAdaptiveRateLimiter creates an AdaptiveRateLimiter with the two delay
// tiers.
func NewAdaptiveRateLimiter(samePathDelay, pathChangeDelay time.Duration, log *logrus.Entry) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		samePathDelay:   samePathDelay,
		pathChangeDelay: pathChangeDelay,
		log:             log,
	}
}

// WaitIfNeeded blocks the calling worker until its request to rawURL may
// proceed. Returns early with the context error if ctx is cancelled during
// the wait; the last-path state is still advanced so the caller's request,
// if it proceeds anyway, is accounted for.
func (rl *AdaptiveRateLimiter) WaitIfNeeded(ctx context.Context, rawURL string) error {
	currentPath := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		currentPath = u.Path
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	var required time.Duration
	switch {
	case rl.lastPath == "":
		// First request on a fresh limiter
		required = 0
	case currentPath == rl.lastPath:
		required = rl.samePathDelay
		rl.log.WithFields(logrus.Fields{"path": currentPath, "delay": required}).Debug("Same path, short delay")
	default:
		required = rl.pathChangeDelay
		rl.log.WithFields(logrus.Fields{
			"previous_path": rl.lastPath, "path": currentPath, "delay": required,
		}).Info("Path change, long delay")
	}

	// +/- 20% jitter to avoid a predictable request cadence
	if required > 0 {
		jitter := time.Duration(rand.Int63n(int64(required)*2/5)) - required/5
		required += jitter
		if required < 0 {
			required = 0
		}
	}

	// Time already spent since the previous request counts toward the delay
	remaining := required - time.Since(rl.lastRequest)
	if remaining > 0 {
		rl.log.WithField("sleep", remaining).Debug("Rate limit applying sleep")
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			rl.lastPath = currentPath
			rl.lastRequest = time.Now()
			return ctx.Err()
		}
	}

	rl.lastPath = currentPath
	rl.lastRequest = time.Now()
	return nil
}
