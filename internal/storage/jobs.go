package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/fluxmcp/internal/job"
)

// PutJob merges j into the stored row (inserting it if absent) and returns the result.
func (s *Store) PutJob(ctx context.Context, j job.Job) (job.Job, error) {
	return s.mergeJob(ctx, j, false)
}

// UpdateJob merges j into an existing row; ErrNotFound if there is none.
func (s *Store) UpdateJob(ctx context.Context, j job.Job) (job.Job, error) {
	return s.mergeJob(ctx, j, true)
}

func (s *Store) mergeJob(ctx context.Context, j job.Job, mustExist bool) (job.Job, error) {
	if j.ID == "" {
		return job.Job{}, errors.New("job has no id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return job.Job{}, fmt.Errorf("beginning job transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, j.ID))
	switch {
	case errors.Is(err, ErrNotFound):
		if mustExist {
			return job.Job{}, ErrNotFound
		}
		current = job.Job{}
	case err != nil:
		return job.Job{}, err
	}

	now := time.Now().UTC()
	merged := current.Merge(j)
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = now
	}
	if merged.UpdatedAt.Before(now) {
		merged.UpdatedAt = now
	}

	params, err := json.Marshal(merged.Params)
	if err != nil {
		return job.Job{}, fmt.Errorf("marshaling params: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			polling_url = excluded.polling_url,
			params_json = excluded.params_json,
			status = excluded.status,
			result_url = excluded.result_url,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		merged.ID, string(merged.Variant), merged.PollingURL, string(params), string(merged.Status),
		merged.ResultURL, merged.ErrorDetail,
		merged.CreatedAt.UTC().Format(timeLayout), merged.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return job.Job{}, fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return job.Job{}, fmt.Errorf("committing job %s: %w", j.ID, err)
	}
	return merged, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (job.Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// ListJobs returns jobs newest first. limit <= 0 returns every row.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]job.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListJobsByStatus returns jobs in status st, newest first.
func (s *Store) ListJobsByStatus(ctx context.Context, st job.Status, limit int) ([]job.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ?`, string(st), limit)
}

// PruneJobs deletes jobs last updated before the cutoff and reports how many were removed.
func (s *Store) PruneJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE updated_at < ?`, before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (job.Job, error) {
	var j job.Job
	var model, status, params, createdAt, updatedAt string
	err := row.Scan(&j.ID, &model, &j.PollingURL, &params, &status, &j.ResultURL, &j.ErrorDetail, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}

	j.Variant = job.Variant(model)
	j.Status = job.Status(status)
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
			return job.Job{}, fmt.Errorf("decoding params for job %s: %w", j.ID, err)
		}
	}
	if j.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return job.Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return job.Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}
