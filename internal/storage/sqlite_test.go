package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/fluxmcp/internal/job"
	"github.com/kalambet/fluxmcp/internal/registry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), InMemory)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", InMemory, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.schemaVersion(ctx)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	if _, err := s1.PutJob(ctx, job.Job{ID: "kept", Status: job.StatusPending}); err != nil {
		t.Fatalf("PutJob: %v", err)
	}
	s1.Close()

	if _, err := os.Stat(filepath.Join(dir, historyFile)); err != nil {
		t.Fatalf("history file: %v", err)
	}

	s2, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.schemaVersion(ctx)
	if err != nil {
		t.Fatalf("schemaVersion: %v", err)
	}
	all, _ := migrations()
	if v1 == 0 || v1 != v2 || v1 != all[len(all)-1].version {
		t.Errorf("schema version %d -> %d, want %d", v1, v2, all[len(all)-1].version)
	}
	if _, err := s2.GetJob(ctx, "kept"); err != nil {
		t.Errorf("job lost across reopen: %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Error("expected error for an empty data directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if s, err := Open(ctx, t.TempDir()); err == nil {
		s.Close()
		t.Error("expected error for a cancelled context")
	}
}

func TestMigrations_Ordered(t *testing.T) {
	all, err := migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(all); i++ {
		if all[i].version <= all[i-1].version {
			t.Errorf("versions out of order: %d after %d", all[i].version, all[i-1].version)
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_created", "idx_jobs_status"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestPutAndGetJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	_, err := s.PutJob(ctx, job.Job{
		ID:         "job-1",
		Variant:    job.VariantUltra,
		PollingURL: "https://api.example/v1/get_result?id=job-1",
		Params:     map[string]any{"prompt": "a red cube", "raw": true},
		Status:     job.StatusPending,
		CreatedAt:  created,
	})
	if err != nil {
		t.Fatalf("PutJob: %v", err)
	}

	got, err := s.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Variant != job.VariantUltra || got.Status != job.StatusPending {
		t.Errorf("got %+v", got)
	}
	if got.Params["prompt"] != "a red cube" || got.Params["raw"] != true {
		t.Errorf("Params = %v", got.Params)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.UpdateJob(ctx, job.Job{ID: "x", Status: job.StatusReady}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateJob on missing row: err = %v", err)
	}

	s.PutJob(ctx, job.Job{ID: "x", Variant: job.VariantDev, Status: job.StatusPending})
	got, err := s.UpdateJob(ctx, job.Job{ID: "x", Status: job.StatusError, ErrorDetail: "Content Moderated"})
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got.Status != job.StatusError || got.ErrorDetail != "Content Moderated" || got.Variant != job.VariantDev {
		t.Errorf("got %+v", got)
	}

	// Terminal rows do not regress.
	got, _ = s.PutJob(ctx, job.Job{ID: "x", Status: job.StatusPending})
	if got.Status != job.StatusError {
		t.Errorf("Status = %s after pending observation", got.Status)
	}
	stored, _ := s.GetJob(ctx, "x")
	if stored.Status != job.StatusError {
		t.Errorf("stored Status = %s", stored.Status)
	}
}

func TestListJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		st := job.StatusPending
		if i%2 == 0 {
			st = job.StatusReady
		}
		s.PutJob(ctx, job.Job{ID: fmt.Sprintf("j%d", i), Status: st, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	all, err := s.ListJobs(ctx, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 5 || all[0].ID != "j4" || all[4].ID != "j0" {
		t.Errorf("order = %v", jobIDs(all))
	}

	top, _ := s.ListJobs(ctx, 2)
	if len(top) != 2 || top[0].ID != "j4" {
		t.Errorf("limited = %v", jobIDs(top))
	}

	pending, err := s.ListJobsByStatus(ctx, job.StatusPending, 0)
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "j3" || pending[1].ID != "j1" {
		t.Errorf("pending = %v", jobIDs(pending))
	}
}

func TestPruneJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.PutJob(ctx, job.Job{ID: "a", Status: job.StatusReady})
	n, err := s.PruneJobs(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("PruneJobs(past) = %d, %v", n, err)
	}
	n, err = s.PruneJobs(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PruneJobs(future) = %d, %v", n, err)
	}
	if _, err := s.GetJob(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("job survived prune: %v", err)
	}
}

func TestRegistryAdapter(t *testing.T) {
	s := openTestStore(t)
	r := NewRegistry(s, 10)
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Get: err = %v, want registry.ErrNotFound", err)
	}
	if _, err := r.Update(ctx, job.Job{ID: "missing"}); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("Update: err = %v, want registry.ErrNotFound", err)
	}
	if _, err := r.Put(ctx, job.Job{}); !errors.Is(err, registry.ErrEmptyID) {
		t.Errorf("Put: err = %v, want registry.ErrEmptyID", err)
	}

	r.Put(ctx, job.Job{ID: "a", Status: job.StatusPending})
	list, err := r.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", jobIDs(list), err)
	}
}

func jobIDs(jobs []job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}
