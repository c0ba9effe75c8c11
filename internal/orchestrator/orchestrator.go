// Package orchestrator runs the generation workflow: resolve the model,
// submit, optionally poll to completion, record state, and fetch results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/fluxmcp/internal/bfl"
	"github.com/kalambet/fluxmcp/internal/job"
	"github.com/kalambet/fluxmcp/internal/metrics"
	"github.com/kalambet/fluxmcp/internal/params"
	"github.com/kalambet/fluxmcp/internal/poll"
	"github.com/kalambet/fluxmcp/internal/registry"
)

const DefaultMaxArtifactBytes = 32 << 20

// Provider is the subset of bfl.Client the orchestrator needs.
type Provider interface {
	Submit(ctx context.Context, path string, payload map[string]any) (bfl.SubmitResult, error)
	FetchStatus(ctx context.Context, pollingURL string) (bfl.StatusResult, error)
	OpenArtifact(ctx context.Context, url string) (*bfl.Artifact, error)
	StatusURL(id string) string
}

// Registry stores last known job state. Put merge-upserts; Update merges
// only into an existing entry and returns registry.ErrNotFound otherwise.
type Registry interface {
	Put(ctx context.Context, j job.Job) (job.Job, error)
	Update(ctx context.Context, j job.Job) (job.Job, error)
	Get(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context) ([]job.Job, error)
}

type Deps struct {
	Provider         Provider
	Registry         Registry
	Poller           *poll.Poller
	Metrics          *metrics.Collector
	Logger           *slog.Logger
	MaxArtifactBytes int64
	DownloadDir      string
}

type Orchestrator struct {
	provider    Provider
	registry    Registry
	poller      *poll.Poller
	metrics     *metrics.Collector
	logger      *slog.Logger
	maxBytes    int64
	downloadDir string
	now         func() time.Time

	inflight singleflight.Group
}

func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		provider:    deps.Provider,
		registry:    deps.Registry,
		poller:      deps.Poller,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		maxBytes:    deps.MaxArtifactBytes,
		downloadDir: deps.DownloadDir,
		now:         time.Now,
	}
	if o.registry == nil {
		o.registry = registry.NewMemory(0, 0)
	}
	if o.poller == nil {
		o.poller = poll.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxBytes <= 0 {
		o.maxBytes = DefaultMaxArtifactBytes
	}
	return o
}

// GenerateRequest is one generate_image invocation. Params may still contain
// the model and wait keys; they are stripped before submission.
type GenerateRequest struct {
	Model  string
	Params map[string]any
	Wait   bool
}

// Outcome is the state of a generation as far as this call observed it.
type Outcome struct {
	ID          string
	Variant     job.Variant
	Status      job.Status
	ResultURL   string
	ErrorDetail string
	PollingURL  string
}

// Generate submits a job and, when req.Wait is set, polls it to a terminal
// state. A job that ends in Error returns its outcome with a *GenerationError,
// and a Ready job without a result URL returns it with ErrMissingArtifact.
// A poll that runs out of attempts returns the Pending outcome with an error
// wrapping poll.ErrTimeout.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (Outcome, error) {
	logger := o.log(ctx)

	v, err := job.ParseVariant(req.Model)
	if err != nil {
		return Outcome{}, err
	}
	payload, err := params.Build(v, req.Params)
	if err != nil {
		return Outcome{}, err
	}

	started := o.now()
	sub, err := o.provider.Submit(ctx, v.Path(), payload)
	if err != nil {
		o.metrics.Submission(string(v), "error")
		logger.Warn("submission failed", "variant", v, "error", err)
		return Outcome{}, fmt.Errorf("submitting to %s: %w", v, err)
	}
	o.metrics.Submission(string(v), "ok")
	logger.Info("job submitted", "job_id", sub.ID, "variant", v)

	_, err = o.registry.Put(ctx, job.Job{
		ID:         sub.ID,
		Variant:    v,
		PollingURL: sub.PollingURL,
		Params:     payload,
		Status:     job.StatusPending,
		CreatedAt:  started.UTC(),
	})
	if err != nil {
		logger.Warn("recording job failed", "job_id", sub.ID, "error", err)
	}

	out := Outcome{ID: sub.ID, Variant: v, Status: job.StatusPending, PollingURL: sub.PollingURL}
	if !req.Wait {
		return out, nil
	}

	res, err := poll.UntilTerminal(ctx, o.poller, func(ctx context.Context) (job.Job, error) {
		return o.observe(ctx, sub.ID, sub.PollingURL)
	}, func(j job.Job) bool {
		return j.Status.Terminal()
	})
	if err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			o.metrics.PollOutcome("timeout")
			logger.Info("polling timed out", "job_id", sub.ID)
		} else {
			o.metrics.PollOutcome("aborted")
			logger.Warn("polling aborted", "job_id", sub.ID, "error", err)
		}
		return out, fmt.Errorf("waiting for %s: %w", sub.ID, err)
	}

	merged, err := o.registry.Put(ctx, res)
	if err != nil {
		logger.Warn("recording job status failed", "job_id", sub.ID, "error", err)
		merged = res
	}
	o.metrics.GenerationDuration(string(v), o.now().Sub(started))

	out.Status = merged.Status
	out.ResultURL = merged.ResultURL
	out.ErrorDetail = merged.ErrorDetail
	if out.Status == job.StatusError {
		o.metrics.PollOutcome("error")
		logger.Info("generation failed", "job_id", sub.ID, "detail", out.ErrorDetail)
		return out, &GenerationError{ID: sub.ID, Detail: out.ErrorDetail}
	}
	if out.ResultURL == "" {
		o.metrics.PollOutcome("error")
		logger.Warn("ready job has no result url", "job_id", sub.ID)
		return out, fmt.Errorf("%s: %w", sub.ID, ErrMissingArtifact)
	}
	o.metrics.PollOutcome("ready")
	logger.Info("generation ready", "job_id", sub.ID)
	return out, nil
}

// Status asks the provider for the current state of id and folds it into the
// registry entry if one exists. A registry miss is not an error; the provider
// decides whether the job exists. Concurrent calls for one id share a fetch,
// including the polls of a Generate that is waiting on it.
func (o *Orchestrator) Status(ctx context.Context, id string) (job.Job, error) {
	return o.observe(ctx, id, "")
}

// observe fetches id once per concurrent burst of callers. pollingURL, when
// set, overrides the one recorded in the registry.
func (o *Orchestrator) observe(ctx context.Context, id, pollingURL string) (job.Job, error) {
	v, err, _ := o.inflight.Do(id, func() (any, error) {
		return o.status(ctx, id, pollingURL)
	})
	if err != nil {
		return job.Job{}, err
	}
	return v.(job.Job), nil
}

func (o *Orchestrator) status(ctx context.Context, id, pollingURL string) (job.Job, error) {
	known, err := o.registry.Get(ctx, id)
	switch {
	case err == nil:
		if pollingURL == "" {
			pollingURL = known.PollingURL
		}
	case !errors.Is(err, registry.ErrNotFound):
		o.log(ctx).Warn("registry lookup failed", "job_id", id, "error", err)
	}
	if pollingURL == "" {
		pollingURL = o.provider.StatusURL(id)
	}

	res, err := o.fetch(ctx, pollingURL)
	if err != nil {
		return job.Job{}, err
	}

	obs := res.Job()
	obs.ID = id
	obs.UpdatedAt = o.now().UTC()
	merged, err := o.registry.Update(ctx, obs)
	switch {
	case err == nil:
		return merged, nil
	case errors.Is(err, registry.ErrNotFound):
		return obs, nil
	default:
		o.log(ctx).Warn("registry update failed", "job_id", id, "error", err)
		return known.Merge(obs), nil
	}
}

// List returns the registry snapshot, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]job.Job, error) {
	return o.registry.List(ctx)
}

// Pending returns registry entries that have not reached a terminal state.
func (o *Orchestrator) Pending(ctx context.Context) ([]job.Job, error) {
	all, err := o.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []job.Job
	for _, j := range all {
		if j.Status == job.StatusPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (o *Orchestrator) fetch(ctx context.Context, pollingURL string) (bfl.StatusResult, error) {
	res, err := o.provider.FetchStatus(ctx, pollingURL)
	if err != nil {
		o.metrics.StatusFetch("failed")
		return res, err
	}
	o.metrics.StatusFetch(string(res.Status))
	return res, nil
}

// ready checks the artifact preconditions on a freshly fetched job.
func ready(j job.Job) error {
	switch j.Status {
	case job.StatusReady:
		if j.ResultURL == "" {
			return fmt.Errorf("%s: %w", j.ID, ErrMissingArtifact)
		}
		return nil
	case job.StatusError:
		return &GenerationError{ID: j.ID, Detail: j.ErrorDetail}
	default:
		return fmt.Errorf("%s: %w", j.ID, ErrNotReady)
	}
}

type ctxKey struct{}

// WithInvocationID tags ctx so log lines for one tool call can be correlated.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func (o *Orchestrator) log(ctx context.Context) *slog.Logger {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return o.logger.With("invocation_id", id)
	}
	return o.logger
}
