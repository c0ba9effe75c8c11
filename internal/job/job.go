package job

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending Status = "Pending"
	StatusReady   Status = "Ready"
	StatusError   Status = "Error"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// ProviderNotFound is the status text the provider uses for ids it has no record of.
const ProviderNotFound = "Task not found"

// ParseProviderStatus maps the provider's status text onto a Status.
// Unknown and in-progress values ("Processing", "Queued", "") are Pending.
// The caller must handle ProviderNotFound before calling this.
func ParseProviderStatus(s string) Status {
	switch strings.TrimSpace(s) {
	case "Ready":
		return StatusReady
	case "Error", "Failed", "Request Moderated", "Content Moderated":
		return StatusError
	default:
		return StatusPending
	}
}

// Job is one provider-side unit of work as last observed by this process.
type Job struct {
	ID          string         `json:"id"`
	Variant     Variant        `json:"model,omitempty"`
	PollingURL  string         `json:"polling_url,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Status      Status         `json:"status"`
	ResultURL   string         `json:"result_url,omitempty"`
	ErrorDetail string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Merge folds a newer observation into j and returns the result.
//
// Fields fixed at submission keep their first non-empty value. A terminal
// status never reverts, and the result locator and error detail are only set
// alongside the terminal status they belong to.
func (j Job) Merge(next Job) Job {
	out := j
	if out.ID == "" {
		out.ID = next.ID
	}
	if out.Variant == "" {
		out.Variant = next.Variant
	}
	if out.PollingURL == "" {
		out.PollingURL = next.PollingURL
	}
	if out.Params == nil {
		out.Params = next.Params
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = next.CreatedAt
	}
	if next.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = next.UpdatedAt
	}

	if out.Status.Terminal() {
		return out
	}
	if out.Status == "" || next.Status.Terminal() {
		out.Status = next.Status
	}
	switch out.Status {
	case StatusReady:
		out.ResultURL = next.ResultURL
		out.ErrorDetail = ""
	case StatusError:
		out.ErrorDetail = next.ErrorDetail
		out.ResultURL = ""
	}
	return out
}
