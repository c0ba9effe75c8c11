package storage

import (
	"context"
	"errors"

	"github.com/kalambet/fluxmcp/internal/job"
	"github.com/kalambet/fluxmcp/internal/registry"
)

// Registry exposes a Store through the same interface as the in-process
// registries, so job history survives restarts.
type Registry struct {
	store *Store
	limit int
}

// NewRegistry adapts s. List returns at most limit jobs; limit <= 0 means all.
func NewRegistry(s *Store, limit int) *Registry {
	return &Registry{store: s, limit: limit}
}

func (r *Registry) Put(ctx context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		return job.Job{}, registry.ErrEmptyID
	}
	return r.store.PutJob(ctx, j)
}

func (r *Registry) Update(ctx context.Context, j job.Job) (job.Job, error) {
	out, err := r.store.UpdateJob(ctx, j)
	return out, translate(err)
}

func (r *Registry) Get(ctx context.Context, id string) (job.Job, error) {
	out, err := r.store.GetJob(ctx, id)
	return out, translate(err)
}

func (r *Registry) List(ctx context.Context) ([]job.Job, error) {
	return r.store.ListJobs(ctx, r.limit)
}

func translate(err error) error {
	if errors.Is(err, ErrNotFound) {
		return registry.ErrNotFound
	}
	return err
}
