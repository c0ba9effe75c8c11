package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/fluxmcp/internal/bfl"
)

// script replays a fixed sequence of observations, repeating the last one.
type script struct {
	steps []step
	calls int
}

type step struct {
	status string
	err    error
}

func (s *script) fetch(ctx context.Context) (string, error) {
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return s.steps[i].status, s.steps[i].err
}

func isTerminal(s string) bool { return s == "Ready" || s == "Error" }

func testPoller(delays *[]time.Duration) *Poller {
	p := Default()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return p
}

func TestUntilTerminal_PendingPendingReady(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{status: "Pending"}, {status: "Pending"}, {status: "Ready"}}}

	got, err := UntilTerminal(context.Background(), testPoller(&delays), s.fetch, isTerminal)
	if err != nil {
		t.Fatalf("UntilTerminal: %v", err)
	}
	if got != "Ready" {
		t.Errorf("got %q, want Ready", got)
	}
	if s.calls != 3 {
		t.Errorf("fetches = %d, want 3", s.calls)
	}
	if len(delays) != 2 {
		t.Errorf("delays = %d, want 2", len(delays))
	}
	for _, d := range delays {
		if d != 2*time.Second {
			t.Errorf("delay = %v, want 2s", d)
		}
	}
}

func TestUntilTerminal_TimeoutAfterMaxAttempts(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{status: "Pending"}}}
	p := testPoller(&delays)
	p.MaxAttempts = 5

	_, err := UntilTerminal(context.Background(), p, s.fetch, isTerminal)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var terr *TimeoutError
	if !errors.As(err, &terr) || terr.Attempts != 5 {
		t.Errorf("TimeoutError = %+v", terr)
	}
	if s.calls != 5 {
		t.Errorf("fetches = %d, want 5", s.calls)
	}
	if len(delays) != 4 {
		t.Errorf("delays = %d, want 4", len(delays))
	}
}

func TestUntilTerminal_DefaultBudget(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{status: "Pending"}}}

	_, err := UntilTerminal(context.Background(), testPoller(&delays), s.fetch, isTerminal)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if s.calls != DefaultMaxAttempts {
		t.Errorf("fetches = %d, want %d", s.calls, DefaultMaxAttempts)
	}
}

func TestUntilTerminal_TransientErrorConsumesAttempt(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{
		{status: "Pending"},
		{err: &bfl.ProviderError{StatusCode: 503}},
		{status: "Ready"},
	}}

	got, err := UntilTerminal(context.Background(), testPoller(&delays), s.fetch, isTerminal)
	if err != nil {
		t.Fatalf("UntilTerminal: %v", err)
	}
	if got != "Ready" || s.calls != 3 {
		t.Errorf("got %q after %d fetches", got, s.calls)
	}
}

func TestUntilTerminal_TransientAtBudgetEnd(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{err: &bfl.ProviderError{StatusCode: 429}}}}
	p := testPoller(&delays)
	p.MaxAttempts = 3

	_, err := UntilTerminal(context.Background(), p, s.fetch, isTerminal)
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	var perr *bfl.ProviderError
	if !errors.As(terr.Last, &perr) || perr.StatusCode != 429 {
		t.Errorf("Last = %v", terr.Last)
	}
}

func TestUntilTerminal_NonTransientAborts(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{status: "Pending"}, {err: bfl.ErrUnknownJob}, {status: "Ready"}}}

	_, err := UntilTerminal(context.Background(), testPoller(&delays), s.fetch, isTerminal)
	if !errors.Is(err, bfl.ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
	if s.calls != 2 {
		t.Errorf("fetches = %d, want 2", s.calls)
	}
}

func TestUntilTerminal_NoRetryTransientAborts(t *testing.T) {
	var delays []time.Duration
	s := &script{steps: []step{{err: &bfl.ProviderError{StatusCode: 500}}, {status: "Ready"}}}
	p := testPoller(&delays)
	p.RetryTransient = false

	_, err := UntilTerminal(context.Background(), p, s.fetch, isTerminal)
	var perr *bfl.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if s.calls != 1 || len(delays) != 0 {
		t.Errorf("fetches = %d, delays = %d", s.calls, len(delays))
	}
}

func TestUntilTerminal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &script{steps: []step{{status: "Pending"}}}
	p := Default()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := UntilTerminal(ctx, p, s.fetch, isTerminal)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.calls != 1 {
		t.Errorf("fetches = %d, want 1", s.calls)
	}
}

func TestUntilTerminal_RealSleepIsShort(t *testing.T) {
	s := &script{steps: []step{{status: "Pending"}, {status: "Error"}}}
	p := Default()
	p.Interval = time.Millisecond
	p.MaxInterval = time.Millisecond

	got, err := UntilTerminal(context.Background(), p, s.fetch, isTerminal)
	if err != nil || got != "Error" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestDelay_Backoff(t *testing.T) {
	p := &Poller{Interval: time.Second, MaxInterval: 5 * time.Second, Multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelay_JitterStaysInBounds(t *testing.T) {
	p := &Poller{Interval: time.Second, MaxInterval: 8 * time.Second, Multiplier: 2, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(4) // nominal 8s
		if d < 6*time.Second || d > 10*time.Second {
			t.Fatalf("Delay(4) = %v, outside ±25%% of 8s", d)
		}
	}
	for i := 0; i < 100; i++ {
		if d := p.Delay(1); d < time.Second {
			t.Fatalf("Delay(1) = %v, below interval", d)
		}
	}
}
