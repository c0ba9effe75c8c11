package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kalambet/fluxmcp/internal/job"
)

// store is the common surface of both backends.
type store interface {
	Put(ctx context.Context, j job.Job) (job.Job, error)
	Update(ctx context.Context, j job.Job) (job.Job, error)
	Get(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context) ([]job.Job, error)
}

func openTestRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test:", ttl), mr
}

func backends(t *testing.T) map[string]store {
	t.Helper()
	r, _ := openTestRedis(t, 0)
	return map[string]store{
		"memory": NewMemory(0, 0),
		"redis":  r,
	}
}

func TestRegistry_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Put(ctx, job.Job{ID: "a", Variant: job.VariantDev, Status: job.StatusPending,
				Params: map[string]any{"prompt": "a red cube"}})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get(ctx, "a")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Variant != job.VariantDev || got.Status != job.StatusPending || got.Params["prompt"] != "a red cube" {
				t.Errorf("got %+v", got)
			}
			if got.CreatedAt.IsZero() {
				t.Error("CreatedAt not stamped")
			}
		})
	}
}

func TestRegistry_GetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRegistry_UpdateRequiresEntry(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Update(ctx, job.Job{ID: "x", Status: job.StatusReady}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Update on missing: err = %v", err)
			}
			if _, err := s.Put(ctx, job.Job{ID: "x", Status: job.StatusPending}); err != nil {
				t.Fatal(err)
			}
			got, err := s.Update(ctx, job.Job{ID: "x", Status: job.StatusReady, ResultURL: "https://example/img.png"})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if got.Status != job.StatusReady || got.ResultURL != "https://example/img.png" {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestRegistry_TerminalNeverRegresses(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
			s.Put(ctx, job.Job{ID: "a", Status: job.StatusReady, ResultURL: "https://example/1.png"})
			got, _ := s.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
			if got.Status != job.StatusReady || got.ResultURL != "https://example/1.png" {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestRegistry_IndependentEntries(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s.Put(ctx, job.Job{ID: "a", Status: job.StatusPending, Params: map[string]any{"prompt": "cat"}})
			s.Put(ctx, job.Job{ID: "b", Status: job.StatusPending, Params: map[string]any{"prompt": "dog"}})
			s.Update(ctx, job.Job{ID: "a", Status: job.StatusReady, ResultURL: "https://example/a.png"})
			s.Update(ctx, job.Job{ID: "b", Status: job.StatusError, ErrorDetail: "moderated"})

			a, _ := s.Get(ctx, "a")
			b, _ := s.Get(ctx, "b")
			if a.ResultURL != "https://example/a.png" || a.ErrorDetail != "" || a.Params["prompt"] != "cat" {
				t.Errorf("a = %+v", a)
			}
			if b.Status != job.StatusError || b.ResultURL != "" || b.Params["prompt"] != "dog" {
				t.Errorf("b = %+v", b)
			}
		})
	}
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"old", "mid", "new"} {
				s.Put(ctx, job.Job{ID: id, Status: job.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
			}
			list, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
				t.Errorf("order = %v", ids(list))
			}
		})
	}
}

func TestRegistry_EmptyID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Put(context.Background(), job.Job{Status: job.StatusPending}); !errors.Is(err, ErrEmptyID) {
				t.Errorf("err = %v, want ErrEmptyID", err)
			}
		})
	}
}

func TestMemory_CapacityEvictsLeastRecentlyWritten(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, 0)
	m.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
	m.Put(ctx, job.Job{ID: "b", Status: job.StatusPending})
	m.Put(ctx, job.Job{ID: "a", Status: job.StatusReady, ResultURL: "u"}) // a is now most recent
	m.Put(ctx, job.Job{ID: "c", Status: job.StatusPending})

	if _, err := m.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b should have been evicted, err = %v", err)
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Errorf("a evicted: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestMemory_UpdateNeverRecreatesEvicted(t *testing.T) {
	ctx := context.Background()
	for i := range 200 {
		m := NewMemory(1, 0)
		m.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					m.Update(ctx, job.Job{ID: "a", Status: job.StatusPending})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Put(ctx, job.Job{ID: "b", Status: job.StatusPending})
		}()
		wg.Wait()

		if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("round %d: evicted entry came back, err = %v", i, err)
		}
		if _, err := m.Get(ctx, "b"); err != nil {
			t.Fatalf("round %d: b missing: %v", i, err)
		}
	}
}

func TestMemory_UpdateDropsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(0, time.Hour)
	m.now = func() time.Time { return now }

	m.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
	now = now.Add(2 * time.Hour)
	if _, err := m.Update(ctx, job.Job{ID: "a", Status: job.StatusReady, ResultURL: "u"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update on expired entry: err = %v, want ErrNotFound", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(0, time.Hour)
	m.now = func() time.Time { return now }

	m.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
	now = now.Add(30 * time.Minute)
	m.Put(ctx, job.Job{ID: "b", Status: job.StatusPending})

	now = now.Add(45 * time.Minute)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("a should have expired, err = %v", err)
	}
	if _, err := m.Get(ctx, "b"); err != nil {
		t.Errorf("b expired early: %v", err)
	}
	list, _ := m.List(ctx)
	if len(list) != 1 {
		t.Errorf("List = %v", ids(list))
	}
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	r, mr := openTestRedis(t, time.Hour)

	if _, err := r.Put(ctx, job.Job{ID: "a", Status: job.StatusPending}); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("test:job:a"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := r.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after expiry", err)
	}
	list, err := r.List(ctx)
	if err != nil || len(list) != 0 {
		t.Errorf("List = %v, %v", ids(list), err)
	}
	if members, _ := mr.ZMembers("test:jobs"); len(members) != 0 {
		t.Errorf("stale index members left: %v", members)
	}
}

func ids(jobs []job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
