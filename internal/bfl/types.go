package bfl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/kalambet/fluxmcp/internal/job"
)

// SubmitResult identifies a newly created job.
type SubmitResult struct {
	ID         string
	PollingURL string
}

// StatusResult is one observation of a job's state.
type StatusResult struct {
	ID             string
	Status         job.Status
	ProviderStatus string
	ResultURL      string
	ErrorDetail    string
	Result         json.RawMessage
}

// Job converts the observation into a registry record.
func (s StatusResult) Job() job.Job {
	return job.Job{
		ID:          s.ID,
		Status:      s.Status,
		ResultURL:   s.ResultURL,
		ErrorDetail: s.ErrorDetail,
	}
}

// Artifact is an open transfer of a generated image.
type Artifact struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64 // -1 when unknown
}

type submitResponse struct {
	ID              string `json:"id"`
	PollingURL      string `json:"polling_url"`
	PollingURLCamel string `json:"pollingUrl"`
}

type statusResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// ErrUnknownJob is returned when the provider has no record of an id.
var ErrUnknownJob = errors.New("unknown job")

// ProviderError is a non-success HTTP response from the provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request later may succeed.
func (e *ProviderError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SchemaError means a success response did not have the expected shape.
type SchemaError struct {
	Op  string
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unexpected %s response: %v", e.Op, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsTransient classifies err for retry decisions: network failures and
// transient provider statuses are transient, everything else is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Transient()
	}
	var serr *SchemaError
	if errors.As(err, &serr) || errors.Is(err, ErrUnknownJob) {
		return false
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
