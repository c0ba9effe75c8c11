// Package poll drives repeated status checks until a job reaches a terminal state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kalambet/fluxmcp/internal/bfl"
)

const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 2 * time.Second
)

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("polling timed out")

// TimeoutError reports that the attempt budget ran out before a terminal state.
// The job itself is left running at the provider.
type TimeoutError struct {
	Attempts int
	Last     error // last transient fetch error, if the final attempt failed
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("polling timed out after %d attempts (last error: %v)", e.Attempts, e.Last)
	}
	return fmt.Sprintf("polling timed out after %d attempts", e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Poller holds the polling policy. The zero value is not useful; start from Default.
type Poller struct {
	MaxAttempts int
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64 // 1 keeps the interval fixed
	Jitter      bool

	// RetryTransient lets fetch errors classified by Transient consume an
	// attempt instead of aborting the poll.
	RetryTransient bool
	Transient      func(error) bool

	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Default returns 60 attempts at a fixed 2s interval, retrying transient errors.
func Default() *Poller {
	return &Poller{
		MaxAttempts:    DefaultMaxAttempts,
		Interval:       DefaultInterval,
		MaxInterval:    DefaultInterval,
		Multiplier:     1,
		RetryTransient: true,
	}
}

// Delay returns how long to wait after the given 1-based attempt.
func (p *Poller) Delay(attempt int) time.Duration {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(interval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		d = float64(p.MaxInterval)
	}
	if p.Jitter {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	if d < float64(interval) {
		d = float64(interval)
	}
	return time.Duration(d)
}

// UntilTerminal calls fetch until terminal reports true, the attempt budget
// is exhausted, or ctx is done. It sleeps only between attempts, so a job
// that is ready on the third fetch costs three fetches and two delays.
func UntilTerminal[T any](ctx context.Context, p *Poller, fetch func(context.Context) (T, error), terminal func(T) bool) (T, error) {
	var zero T
	if p == nil {
		p = Default()
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	transient := p.Transient
	if transient == nil {
		transient = bfl.IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		obs, err := fetch(ctx)
		switch {
		case err == nil:
			lastErr = nil
			if terminal(obs) {
				return obs, nil
			}
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case p.RetryTransient && transient(err):
			lastErr = err
			logger.Warn("transient status fetch error", "attempt", attempt, "error", err)
		default:
			return zero, err
		}

		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, p.Delay(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, &TimeoutError{Attempts: maxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
