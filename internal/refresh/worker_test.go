package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/fluxmcp/internal/job"
)

type mockResolver struct {
	pending  []job.Job
	listErr  error
	statusFn func(ctx context.Context, id string) (job.Job, error)

	mu      sync.Mutex
	checked []string
}

func (m *mockResolver) Pending(ctx context.Context) ([]job.Job, error) {
	return m.pending, m.listErr
}

func (m *mockResolver) Status(ctx context.Context, id string) (job.Job, error) {
	m.mu.Lock()
	m.checked = append(m.checked, id)
	m.mu.Unlock()
	if m.statusFn != nil {
		return m.statusFn(ctx, id)
	}
	return job.Job{ID: id, Status: job.StatusReady}, nil
}

type mockPruner struct {
	calls  int
	before time.Time
}

func (m *mockPruner) PruneJobs(ctx context.Context, before time.Time) (int64, error) {
	m.calls++
	m.before = before
	return 2, nil
}

func pendingJobs(n int) []job.Job {
	out := make([]job.Job, n)
	for i := range out {
		out[i] = job.Job{ID: fmt.Sprintf("j%d", i), Status: job.StatusPending}
	}
	return out
}

func TestRunOnce_ChecksEveryPendingJob(t *testing.T) {
	r := &mockResolver{pending: pendingJobs(5)}
	w := NewWorker(r, time.Minute)

	n, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 5 || len(r.checked) != 5 {
		t.Errorf("n = %d, checked = %v", n, r.checked)
	}
}

func TestRunOnce_FailuresDoNotStopThePass(t *testing.T) {
	r := &mockResolver{
		pending: pendingJobs(3),
		statusFn: func(ctx context.Context, id string) (job.Job, error) {
			if id == "j0" {
				return job.Job{}, errors.New("provider down")
			}
			return job.Job{ID: id, Status: job.StatusPending}, nil
		},
	}

	n, err := NewWorker(r, time.Minute).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 || len(r.checked) != 3 {
		t.Errorf("n = %d, checked = %v", n, r.checked)
	}
}

func TestRunOnce_BoundedConcurrency(t *testing.T) {
	var inFlight, peak int32
	r := &mockResolver{
		pending: pendingJobs(12),
		statusFn: func(ctx context.Context, id string) (job.Job, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return job.Job{ID: id, Status: job.StatusReady}, nil
		},
	}

	if _, err := NewWorker(r, time.Minute).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if p := atomic.LoadInt32(&peak); p > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", p, maxConcurrent)
	}
}

func TestRunOnce_ListError(t *testing.T) {
	r := &mockResolver{listErr: errors.New("registry down")}
	if _, err := NewWorker(r, time.Minute).RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunOnce_Prunes(t *testing.T) {
	r := &mockResolver{}
	p := &mockPruner{}
	w := NewWorker(r, time.Minute)
	w.SetPruner(p, 24*time.Hour)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("prune calls = %d, want 1", p.calls)
	}
	if age := time.Since(p.before); age < 23*time.Hour || age > 25*time.Hour {
		t.Errorf("cutoff age = %v, want ~24h", age)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := &mockResolver{pending: pendingJobs(1)}
	w := NewWorker(r, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.checked)
		r.mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.checked) == 0 {
		t.Error("Run never refreshed the pending job")
	}
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	w := NewWorker(&mockResolver{}, 0)
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker kept running")
	}
}
