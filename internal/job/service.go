package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/history"
	"github.com/maauso/soragen/internal/storage"
)

// ErrJobActive is returned when deleting a job that has not reached a terminal state.
var ErrJobActive = errors.New("job is still active")

// warnNoResult is recorded on jobs that succeeded without a result URL.
const warnNoResult = "job succeeded but the service returned no result URL"

// Input contains the parameters of one generation.
type Input struct {
	// Prompt is the text description of the video.
	Prompt string
	// AspectRatio is one of 16:9, 9:16, 1:1, 4:3 (default 16:9).
	AspectRatio string
	// Duration is 5, 10 or 15 seconds (default 10).
	Duration int
	// Resolution is 1080p, 720p or small (default 720p).
	Resolution string
	// ReferenceImage is an optional data URI.
	ReferenceImage string
	// Archive copies the result into storage once the job succeeds.
	Archive bool
}

func (in Input) request() generator.Request {
	return generator.Request{
		Prompt:         in.Prompt,
		AspectRatio:    in.AspectRatio,
		Duration:       in.Duration,
		Resolution:     in.Resolution,
		ReferenceImage: in.ReferenceImage,
	}.Normalize()
}

// Output contains the result of one generation.
type Output struct {
	JobID       string
	RemoteID    string
	Status      Status
	ResultURL   string
	Warning     string
	Error       string
	VideoPath   string
	ArchivedURL string
}

func outputOf(j *Job) *Output {
	c := j.Clone()
	return &Output{
		JobID:       c.ID,
		RemoteID:    c.RemoteID,
		Status:      c.Status,
		ResultURL:   c.ResultURL,
		Warning:     c.Warning,
		Error:       c.Error,
		VideoPath:   c.VideoPath,
		ArchivedURL: c.ArchivedURL,
	}
}

// GenerationService runs the submit/poll workflow for generation jobs and
// records successful results in the history store.
type GenerationService struct {
	repo     Repository
	gen      generator.Generator
	history  *history.Store
	store    storage.Storage
	logger   *slog.Logger
	policy   generator.PollPolicy
	poller   *generator.Poller
	observer func(*Job)
}

// ServiceOption configures a GenerationService.
type ServiceOption func(*GenerationService)

// WithPollPolicy overrides the default poll policy.
func WithPollPolicy(p generator.PollPolicy) ServiceOption {
	return func(s *GenerationService) {
		s.policy = p
	}
}

// WithObserver registers a callback invoked with a snapshot after every job update.
func WithObserver(fn func(*Job)) ServiceOption {
	return func(s *GenerationService) {
		s.observer = fn
	}
}

// NewGenerationService creates a GenerationService.
// store may be nil, in which case archive requests are ignored.
func NewGenerationService(
	repo Repository,
	gen generator.Generator,
	hist *history.Store,
	store storage.Storage,
	logger *slog.Logger,
	opts ...ServiceOption,
) *GenerationService {
	if logger == nil {
		logger = slog.Default()
	}
	if hist == nil {
		hist = history.NewStore()
	}
	s := &GenerationService{
		repo:    repo,
		gen:     gen,
		history: hist,
		store:   store,
		logger:  logger,
		policy:  generator.DefaultPollPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.poller = generator.NewPoller(gen, s.policy, logger)
	return s
}

// History returns the store holding successful generations.
func (s *GenerationService) History() *history.Store {
	return s.history
}

// CreateJob validates the input and persists a PENDING job.
// Invalid input (e.g. an empty prompt) is rejected before anything is stored.
func (s *GenerationService) CreateJob(ctx context.Context, input Input) (*Job, error) {
	req := input.request()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := New()
	job.Prompt = req.Prompt
	job.AspectRatio = req.AspectRatio
	job.Duration = req.Duration
	job.Resolution = req.Resolution
	job.UsedReferenceImage = req.HasReferenceImage()
	job.Archive = input.Archive

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("aspect_ratio", job.AspectRatio),
		slog.Int("duration", job.Duration),
		slog.String("resolution", job.Resolution),
		slog.Bool("reference_image", job.UsedReferenceImage),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *GenerationService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns all jobs, newest first.
func (s *GenerationService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a finished job and its locally archived video, if any.
// Jobs still being processed are refused with ErrJobActive.
func (s *GenerationService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return ErrJobActive
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	if job.VideoPath != "" && s.store != nil {
		if err := s.store.CleanupTemp(ctx, []string{job.VideoPath}); err != nil {
			s.logger.Warn("failed to remove archived video",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// Run creates a job and processes it synchronously.
func (s *GenerationService) Run(ctx context.Context, input Input) (*Output, error) {
	job, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, job.ID, input)
}

// ProcessExistingJob submits a previously created job and follows it to a
// terminal state.
//
// The workflow:
//  1. Submit the request; on rejection the job fails and polling never starts
//  2. Poll the remote job, recording progress
//  3. On success record history (when a result URL exists) and archive if asked
//  4. On failure record the remote reason, or the transport/cancel error
func (s *GenerationService) ProcessExistingJob(ctx context.Context, jobID string, input Input) (*Output, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	req := input.request()
	logger := s.logger.With(slog.String("job_id", job.ID))

	handle, err := s.gen.Submit(ctx, req)
	if err != nil {
		logger.Error("submission failed", slog.String("error", err.Error()))
		s.fail(ctx, job, err.Error())
		return outputOf(job), err
	}

	if err := job.Start(handle.ID); err != nil {
		return outputOf(job), fmt.Errorf("start job %s: %w", job.ID, err)
	}
	s.save(ctx, job)
	logger.Info("job submitted", slog.String("remote_id", handle.ID))

	final, err := s.poller.Wait(ctx, handle, func(st generator.JobStatus) {
		if st.State.IsTerminal() {
			return
		}
		job.UpdateProgress(st.Progress)
		s.save(ctx, job)
	})
	if err != nil {
		reason := err.Error()
		var jfe *generator.JobFailedError
		if errors.As(err, &jfe) {
			reason = jfe.Reason
		}
		logger.Error("job failed",
			slog.String("remote_id", handle.ID),
			slog.String("error", err.Error()),
		)
		s.fail(ctx, job, reason)
		return outputOf(job), err
	}

	if err := job.Succeed(final.ResultURL); err != nil {
		return outputOf(job), fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	if final.ResultMissing() {
		job.SetWarning(warnNoResult)
		logger.Warn(warnNoResult, slog.String("remote_id", handle.ID))
	} else {
		s.history.Add(history.NewRecord(req.Prompt, final.ResultURL, req.HasReferenceImage()))
		if job.Archive {
			s.archive(ctx, job)
		}
	}

	s.save(ctx, job)
	logger.Info("job succeeded",
		slog.String("remote_id", handle.ID),
		slog.String("result_url", final.ResultURL),
	)

	return outputOf(job), nil
}

// archive downloads the result into temp storage and pushes it to S3 when
// configured. Without S3 the local copy is kept. Archive problems never fail
// the job; they are recorded as a warning.
func (s *GenerationService) archive(ctx context.Context, job *Job) {
	if s.store == nil {
		job.SetWarning("archive requested but no storage is configured")
		return
	}

	c := job.Clone()
	logger := s.logger.With(slog.String("job_id", c.ID))

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.gen.DownloadOutput(ctx, c.ResultURL, pw))
	}()

	path, err := s.store.SaveTemp(ctx, c.ID+".mp4", pr)
	_ = pr.Close()
	if err != nil {
		logger.Warn("archive download failed", slog.String("error", err.Error()))
		job.SetWarning("archive failed: " + err.Error())
		return
	}

	f, err := s.store.LoadTemp(ctx, path)
	if err != nil {
		logger.Warn("archive reopen failed", slog.String("error", err.Error()))
		job.SetWarning("archive failed: " + err.Error())
		return
	}
	url, err := s.store.UploadToS3(ctx, "videos/"+c.ID+".mp4", f)
	_ = f.Close()

	switch {
	case errors.Is(err, storage.ErrS3NotConfigured):
		job.SetArchive(path, "")
		logger.Info("result archived locally", slog.String("path", path))
		return
	case err != nil:
		logger.Warn("archive upload failed", slog.String("error", err.Error()))
		job.SetWarning("archive failed: " + err.Error())
	default:
		job.SetArchive("", url)
		logger.Info("result archived", slog.String("url", url))
	}

	if err := s.store.CleanupTemp(context.WithoutCancel(ctx), []string{path}); err != nil {
		logger.Warn("failed to clean temp file", slog.String("error", err.Error()))
	}
}

func (s *GenerationService) fail(ctx context.Context, job *Job, reason string) {
	if err := job.Fail(reason); err != nil {
		s.logger.Error("failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	s.save(ctx, job)
}

// save persists a job even when ctx is already cancelled, then notifies the observer.
func (s *GenerationService) save(ctx context.Context, job *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	if s.observer != nil {
		s.observer(job.Clone())
	}
}
