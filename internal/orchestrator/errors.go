package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the job is still Pending.
	ErrNotReady = errors.New("image not ready")
	// ErrGenerationFailed is matched by every GenerationError.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrMissingArtifact means the job is Ready but carries no result URL.
	ErrMissingArtifact = errors.New("job is ready but has no result url")
	// ErrArtifactTooLarge means the transfer exceeded the configured size cap.
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
)

// GenerationError carries the provider's diagnostic for a job that ended in Error.
type GenerationError struct {
	ID     string
	Detail string
}

func (e *GenerationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("generation %s failed", e.ID)
	}
	return fmt.Sprintf("generation %s failed: %s", e.ID, e.Detail)
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrGenerationFailed
}

// TransferError wraps a failure while fetching or storing a generated image.
// The signed URL is kept for logging but left out of the message.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %v", e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
