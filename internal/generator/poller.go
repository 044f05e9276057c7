package generator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultFailureReason is surfaced for failed jobs that carry no reason.
const DefaultFailureReason = "unknown"

// ErrSequenceConsumed is returned when a Watch sequence is ranged over twice.
var ErrSequenceConsumed = errors.New("generator: status sequence already consumed")

// PollPolicy bounds the polling loop.
type PollPolicy struct {
	// Interval is the wait before each status request.
	Interval time.Duration
	// MaxAttempts caps the number of status requests. Zero means no cap.
	MaxAttempts int
	// Timeout caps the total polling time. Zero means no deadline.
	Timeout time.Duration
}

// DefaultPollPolicy polls every 3 seconds for up to 30 minutes.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:    3 * time.Second,
		MaxAttempts: 600,
	}
}

// Poller follows remote jobs until they reach a terminal state.
type Poller struct {
	gen    Generator
	policy PollPolicy
	logger *slog.Logger
}

// NewPoller creates a Poller. A non-positive interval falls back to the default.
func NewPoller(gen Generator, policy PollPolicy, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultPollPolicy().Interval
	}
	return &Poller{gen: gen, policy: policy, logger: logger}
}

// Policy returns the effective poll policy.
func (p *Poller) Policy() PollPolicy {
	return p.policy
}

// Watch returns a lazy sequence of status snapshots for h.
//
// Each step waits one interval, issues one status request and yields the
// snapshot. The sequence ends after the first terminal snapshot. Errors end
// the sequence after being yielded once: transport failures wrap
// ErrPollTransport, an exhausted policy yields ErrPollLimitExceeded and
// cancellation yields the context error. The sequence can be ranged once.
func (p *Poller) Watch(ctx context.Context, h Handle) iter.Seq2[JobStatus, error] {
	var consumed atomic.Bool
	return func(yield func(JobStatus, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(JobStatus{}, ErrSequenceConsumed)
			return
		}
		if h.ID == "" {
			yield(JobStatus{}, ErrHandleRequired)
			return
		}

		if p.policy.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.policy.Timeout)
			defer cancel()
		}

		timer := time.NewTimer(p.policy.Interval)
		defer timer.Stop()

		for attempt := 1; p.policy.MaxAttempts == 0 || attempt <= p.policy.MaxAttempts; attempt++ {
			select {
			case <-ctx.Done():
				yield(JobStatus{}, fmt.Errorf("generator: polling %s stopped: %w", h.ID, ctx.Err()))
				return
			case <-timer.C:
			}

			st, err := p.gen.Poll(ctx, h)
			if err != nil {
				if ctx.Err() != nil {
					yield(JobStatus{}, fmt.Errorf("generator: polling %s stopped: %w", h.ID, ctx.Err()))
					return
				}
				yield(JobStatus{}, fmt.Errorf("%w: %w", ErrPollTransport, err))
				return
			}

			p.logger.Debug("job status",
				slog.String("remote_id", h.ID),
				slog.Int("attempt", attempt),
				slog.String("state", string(st.State)),
				slog.Int("progress", st.Progress),
			)

			if !yield(st, nil) || st.State.IsTerminal() {
				return
			}
			timer.Reset(p.policy.Interval)
		}

		yield(JobStatus{}, fmt.Errorf("%w: %d attempts for job %s", ErrPollLimitExceeded, p.policy.MaxAttempts, h.ID))
	}
}

// Wait drives Watch to completion and returns the terminal snapshot.
// onUpdate, when set, sees every snapshot including the terminal one.
// A failed job returns *JobFailedError; a succeeded job without a result
// URL is returned without error.
func (p *Poller) Wait(ctx context.Context, h Handle, onUpdate func(JobStatus)) (JobStatus, error) {
	var last JobStatus
	for st, err := range p.Watch(ctx, h) {
		if err != nil {
			return last, err
		}
		last = st
		if onUpdate != nil {
			onUpdate(st)
		}
	}

	switch last.State {
	case StatusSucceeded:
		if last.ResultMissing() {
			p.logger.Warn("job succeeded without a result URL",
				slog.String("remote_id", h.ID),
			)
		}
		return last, nil
	case StatusFailed:
		if last.FailureReason == "" {
			last.FailureReason = DefaultFailureReason
		}
		return last, &JobFailedError{JobID: h.ID, Reason: last.FailureReason}
	default:
		return last, fmt.Errorf("%w: job %s ended in %s", ErrPollLimitExceeded, h.ID, last.State)
	}
}
