package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/fluxmcp/internal/job"
)

const (
	defaultPrefix = "fluxmcp:"
	maxTxRetries  = 5
)

// Redis stores one JSON document per job with a native TTL, plus a sorted
// set of ids scored by creation time for listing.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis wraps an existing client. An empty prefix uses "fluxmcp:".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// OpenRedis connects to rawURL (redis://host:port/db) and checks the connection.
func OpenRedis(ctx context.Context, rawURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, "", ttl), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) jobKey(id string) string { return r.prefix + "job:" + id }
func (r *Redis) indexKey() string        { return r.prefix + "jobs" }

// Put merges j into the stored document inside a WATCH transaction.
func (r *Redis) Put(ctx context.Context, j job.Job) (job.Job, error) {
	return r.merge(ctx, j, false)
}

// Update merges j only if a document already exists.
func (r *Redis) Update(ctx context.Context, j job.Job) (job.Job, error) {
	return r.merge(ctx, j, true)
}

func (r *Redis) merge(ctx context.Context, j job.Job, mustExist bool) (job.Job, error) {
	if j.ID == "" {
		return job.Job{}, ErrEmptyID
	}
	key := r.jobKey(j.ID)
	var stored job.Job

	txf := func(tx *redis.Tx) error {
		current, err := r.load(ctx, tx, key)
		switch {
		case errors.Is(err, ErrNotFound):
			if mustExist {
				return ErrNotFound
			}
			current = job.Job{}
		case err != nil:
			return err
		}

		stored = stamp(current.Merge(j), r.now())
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshaling job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(stored.CreatedAt.UnixNano()), Member: stored.ID})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return job.Job{}, err
		}
		return stored, nil
	}
	return job.Job{}, fmt.Errorf("updating job %s: too much contention", j.ID)
}

func (r *Redis) Get(ctx context.Context, id string) (job.Job, error) {
	return r.load(ctx, r.client, r.jobKey(id))
}

// List returns live jobs, newest first. Index entries whose document has
// expired are dropped from the index as they are found.
func (r *Redis) List(ctx context.Context) ([]job.Job, error) {
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	out := make([]job.Job, 0, len(ids))
	var stale []any
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if len(stale) > 0 {
		r.client.ZRem(ctx, r.indexKey(), stale...)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *Redis) load(ctx context.Context, c getter, key string) (job.Job, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, fmt.Errorf("reading %s: %w", key, err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return job.Job{}, fmt.Errorf("decoding %s: %w", key, err)
	}
	return j, nil
}
