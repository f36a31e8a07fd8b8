/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/friendsincode/slotwatch/internal/telemetry"
)

// ErrPermanent marks failures that retrying cannot fix, such as a 404.
var ErrPermanent = errors.New("permanent fetch failure")

// Fetcher retrieves the raw content of a calendar page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Error is the final failure of a fetch after all attempts.
type Error struct {
	URL      string
	Attempts int
	Status   int // last HTTP status, 0 when no response was received
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %d attempts, last status %d: %v", e.URL, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryPolicy bounds attempts. The delay before attempt n+1 is Backoff*2^(n-1).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy allows three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Second}
}

// attemptFunc performs one try and reports the HTTP status when known.
type attemptFunc func(ctx context.Context) ([]byte, int, error)

// Retry runs attempt until it succeeds, fails permanently, the policy is
// exhausted, or ctx ends. The limiter, when set, gates every attempt.
func Retry(ctx context.Context, policy RetryPolicy, limiter *rate.Limiter, url string, attempt attemptFunc) ([]byte, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempts = 1; attempts <= policy.MaxAttempts; attempts++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		body, status, err := attempt(ctx)
		if err == nil {
			return body, nil
		}
		lastErr, lastStatus = err, status

		if errors.Is(err, ErrPermanent) || ctx.Err() != nil || attempts == policy.MaxAttempts {
			break
		}

		telemetry.FetchRetriesTotal.Inc()
		delay := policy.Backoff << (attempts - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{URL: url, Attempts: attempts, Status: lastStatus, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if attempts > policy.MaxAttempts {
		attempts = policy.MaxAttempts
	}
	return nil, &Error{URL: url, Attempts: attempts, Status: lastStatus, Err: lastErr}
}

// NewLimiter allows perSecond requests with a burst of burst. A non-positive
// rate disables limiting.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
