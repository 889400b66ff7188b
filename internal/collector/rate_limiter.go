package collector

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultHourlyLimit = 5000
	lowWatermark       = 10
)

// RateLimiter paces calls against the GitHub API quota
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

type githubRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	lastCall  time.Time
	logger    logrus.FieldLogger
}

// NewRateLimiter creates a rate limiter that spaces calls by minDelay and sleeps
// until the quota resets once it runs low
func NewRateLimiter(minDelay time.Duration, logger logrus.FieldLogger) RateLimiter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &githubRateLimiter{
		remaining: defaultHourlyLimit,
		resetTime: time.Now().Add(time.Hour),
		minDelay:  minDelay,
		logger:    logger,
	}
}

// Wait blocks until another call may be issued or ctx is done
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining <= lowWatermark {
		if wait := time.Until(r.resetTime); wait > 0 {
			r.logger.WithFields(logrus.Fields{
				"remaining": r.remaining,
				"wait":      wait.Round(time.Second).String(),
			}).Warn("github rate limit low, waiting for reset")
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
		}
		r.remaining = defaultHourlyLimit
		r.resetTime = time.Now().Add(time.Hour)
	}

	if elapsed := time.Since(r.lastCall); elapsed < r.minDelay {
		if err := r.sleep(ctx, r.minDelay-elapsed); err != nil {
			return err
		}
	}

	r.lastCall = time.Now()
	return nil
}

// sleep releases the lock while waiting; callers hold r.mu
func (r *githubRateLimiter) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Unlock()
	defer r.mu.Lock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *githubRateLimiter) CheckLimit() (int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime
}

func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
