// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import (
	"context"
	"log/slog"
	"time"
)

// Action tells the retry loop what to do after a failed attempt.
type Action int

const (
	// Stop gives up immediately and returns the error.
	Stop Action = iota
	// Backoff waits an exponentially growing delay and tries again.
	Backoff
	// Refresh renews credentials and tries again without waiting.
	// Two refreshes in a row degrade to Backoff.
	Refresh
)

func (a Action) String() string {
	switch a {
	case Stop:
		return "stop"
	case Backoff:
		return "backoff"
	case Refresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Classifier maps an attempt's error to the next Action.
type Classifier func(err error) Action

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay doubles after each backoff.
	BaseDelay time.Duration

	// Constant is added to every backoff delay.
	Constant time.Duration

	// OnRetry, if set, is called before each wait with the attempt that
	// just failed and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns five attempts with delays of 2s, 3s, 5s and 9s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Constant:    time.Second,
	}
}

// Delay returns the wait that follows the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1) + Constant.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay + p.Constant
}

// Do runs op until it succeeds, classify says Stop, attempts run out, or ctx
// ends. refresh is invoked for Refresh actions and may be nil, in which case
// Refresh behaves like Backoff. The error of the last attempt is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, classify Classifier, refresh func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if classify == nil {
		classify = Always(Backoff)
	}

	var lastErr error
	refreshed := false
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		// Check context before attempting
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = op(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}

		action := classify(lastErr)
		slog.Debug("operation failed", "attempt", attempt, "maxAttempts", p.MaxAttempts, "action", action, "error", lastErr)

		if action == Stop {
			return lastErr
		}

		// Don't wait after the last attempt
		if attempt == p.MaxAttempts {
			break
		}

		if action == Refresh && refresh != nil && !refreshed {
			refreshed = true
			if err := refresh(ctx); err != nil {
				return err
			}
			continue
		}
		refreshed = false

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, lastErr)
		}
		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// WithBackoff retries op with exponential backoff on every error.
// baseDelay doubles on each retry.
func WithBackoff(ctx context.Context, op func() error, maxAttempts int, baseDelay time.Duration) error {
	p := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
	return Do(ctx, p, func(context.Context) error { return op() }, Always(Backoff), nil)
}

// Always returns a Classifier that ignores the error and returns action.
func Always(action Action) Classifier {
	return func(error) Action { return action }
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
