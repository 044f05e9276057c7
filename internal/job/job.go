// Package job provides the Job aggregate for tracking video generation jobs.
// It includes the Job entity with state machine transitions aligned with the
// remote job states, the repository port and the GenerationService use case.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/soragen/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is created locally or queued remotely.
	StatusPending Status = "PENDING"
	// StatusRunning indicates the remote service accepted the job and is rendering.
	StatusRunning Status = "RUNNING"
	// StatusSucceeded indicates the remote service finished the job.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusFailed indicates submission, polling or the remote job failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// A pending job can fail without ever running when submission is rejected.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusSucceeded, StatusFailed},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one video generation request and its remote lifecycle.
type Job struct {
	mu sync.RWMutex

	// ID is the local identifier for this job.
	ID string
	// RemoteID is the opaque identifier returned by the remote service.
	RemoteID string
	// Status is the current job state.
	Status Status
	// Prompt is the text the video was generated from.
	Prompt string
	// AspectRatio is the requested aspect ratio.
	AspectRatio string
	// Duration is the requested clip length in seconds.
	Duration int
	// Resolution is the requested output size.
	Resolution string
	// UsedReferenceImage records whether a reference image was attached.
	UsedReferenceImage bool
	// Progress is the percentage of completion (0-100).
	Progress int
	// ResultURL is the location of the generated video.
	ResultURL string
	// Warning is set when the job succeeded but something is off, e.g. no result URL.
	Warning string
	// Error contains the failure reason if the job failed.
	Error string
	// Archive indicates whether the result should be copied to storage.
	Archive bool
	// VideoPath is the local copy of the result, when archived without S3.
	VideoPath string
	// ArchivedURL is the S3 URL of the archived result.
	ArchivedURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the remote service accepted the job.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial PENDING status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial PENDING status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// transitionLocked returns ErrInvalidTransition if the move is not allowed.
// The caller holds j.mu.
func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusSucceeded, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start records the remote ID and transitions the job from PENDING to RUNNING.
func (j *Job) Start(remoteID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusRunning); err != nil {
		return err
	}
	j.RemoteID = remoteID
	return nil
}

// Succeed records the result and transitions the job to SUCCEEDED.
// An empty resultURL is allowed; the caller sets a warning for it.
func (j *Job) Succeed(resultURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusSucceeded); err != nil {
		return err
	}
	j.ResultURL = resultURL
	j.Progress = 100
	return nil
}

// Fail transitions the job to FAILED state with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// UpdateProgress sets the progress percentage (0-100).
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = max(0, min(100, progress))
	j.UpdatedAt = time.Now()
}

// SetWarning records a non-fatal problem.
func (j *Job) SetWarning(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Warning = msg
	j.UpdatedAt = time.Now()
}

// SetArchive records where the result was archived.
func (j *Job) SetArchive(videoPath, archivedURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoPath = videoPath
	j.ArchivedURL = archivedURL
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:                 j.ID,
		RemoteID:           j.RemoteID,
		Status:             j.Status,
		Prompt:             j.Prompt,
		AspectRatio:        j.AspectRatio,
		Duration:           j.Duration,
		Resolution:         j.Resolution,
		UsedReferenceImage: j.UsedReferenceImage,
		Progress:           j.Progress,
		ResultURL:          j.ResultURL,
		Warning:            j.Warning,
		Error:              j.Error,
		Archive:            j.Archive,
		VideoPath:          j.VideoPath,
		ArchivedURL:        j.ArchivedURL,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
	}
}
