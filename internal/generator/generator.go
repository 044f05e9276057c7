// Package generator provides the job submitter/poller for video generation.
// It validates requests, submits them through a provider adapter and follows
// the remote job until it reaches a terminal state.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Status represents the state of a remote generation job.
type Status string

// Job states as reported by the remote service after normalization.
const (
	StatusPending   Status = "pending"   // Submitted, not picked up yet
	StatusRunning   Status = "running"   // Rendering
	StatusSucceeded Status = "succeeded" // Finished, result available (or missing)
	StatusFailed    Status = "failed"    // Finished with an error
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Static errors for generator operations.
var (
	// ErrEmptyPrompt is returned when a request has no prompt.
	ErrEmptyPrompt = errors.New("generator: prompt is required")
	// ErrInvalidRequest is returned when a request field is out of range.
	ErrInvalidRequest = errors.New("generator: invalid request")
	// ErrJobFailed is returned when the remote service reports a failed job.
	ErrJobFailed = errors.New("generator: job failed")
	// ErrPollTransport is returned when a status check cannot be completed.
	ErrPollTransport = errors.New("generator: status check failed")
	// ErrPollLimitExceeded is returned when the poll policy runs out of attempts.
	ErrPollLimitExceeded = errors.New("generator: poll attempts exhausted")
	// ErrHandleRequired is returned when polling an empty handle.
	ErrHandleRequired = errors.New("generator: job handle is required")
)

// JobFailedError carries the reason reported for a failed job.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("generator: job %s failed: %s", e.JobID, e.Reason)
}

// Is reports JobFailedError as ErrJobFailed.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}

// Handle identifies one in-flight remote job.
type Handle struct {
	ID string
}

// JobStatus is one snapshot of a remote job.
type JobStatus struct {
	State         Status
	Progress      int    // Percentage in [0,100]
	ResultURL     string // Set on success when the service returned a result
	FailureReason string // Set on failure
}

// ResultMissing reports a succeeded job that returned no result URL.
func (s JobStatus) ResultMissing() bool {
	return s.State == StatusSucceeded && s.ResultURL == ""
}

// Generator defines the interface for video generation providers.
type Generator interface {
	// Submit validates the request, sends it and returns a handle to the remote job.
	Submit(ctx context.Context, req Request) (Handle, error)

	// Poll fetches one status snapshot of a job.
	Poll(ctx context.Context, h Handle) (JobStatus, error)

	// DownloadOutput streams a result video into w.
	DownloadOutput(ctx context.Context, outputURL string, w io.Writer) error
}
