package generator

import (
	"context"
	"fmt"
	"io"

	"github.com/maauso/soragen/internal/sora"
)

// SoraAdapter adapts the Sora client to the Generator interface.
type SoraAdapter struct {
	client sora.Client
	model  string
}

// NewSoraAdapter creates a new Sora generator adapter.
// An empty model selects sora.DefaultModel.
func NewSoraAdapter(client sora.Client, model string) *SoraAdapter {
	if model == "" {
		model = sora.DefaultModel
	}
	return &SoraAdapter{client: client, model: model}
}

// Submit validates the request and creates the remote job.
// Invalid requests never reach the network.
func (a *SoraAdapter) Submit(ctx context.Context, req Request) (Handle, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return Handle{}, err
	}

	jobID, err := a.client.Submit(ctx, sora.CreateRequest{
		Model:        a.model,
		Prompt:       req.Prompt,
		AspectRatio:  req.AspectRatio,
		Duration:     req.Duration,
		Size:         req.Resolution,
		ShutProgress: false,
		URL:          req.ReferenceImage,
	})
	if err != nil {
		return Handle{}, fmt.Errorf("sora adapter submit: %w", err)
	}
	return Handle{ID: jobID}, nil
}

// Poll fetches one status snapshot of a Sora job.
func (a *SoraAdapter) Poll(ctx context.Context, h Handle) (JobStatus, error) {
	if h.ID == "" {
		return JobStatus{}, ErrHandleRequired
	}

	result, err := a.client.Poll(ctx, h.ID)
	if err != nil {
		return JobStatus{}, fmt.Errorf("sora adapter poll: %w", err)
	}

	var state Status
	switch result.Status {
	case sora.StatusSucceeded:
		state = StatusSucceeded
	case sora.StatusFailed:
		state = StatusFailed
	case sora.StatusPending:
		state = StatusPending
	default:
		state = StatusRunning
	}

	return JobStatus{
		State:         state,
		Progress:      result.Progress,
		ResultURL:     result.ResultURL,
		FailureReason: result.FailureReason,
	}, nil
}

// DownloadOutput streams the result video from the Sora CDN.
func (a *SoraAdapter) DownloadOutput(ctx context.Context, outputURL string, w io.Writer) error {
	if err := a.client.DownloadOutput(ctx, outputURL, w); err != nil {
		return fmt.Errorf("sora adapter download: %w", err)
	}
	return nil
}

// Compile-time check that SoraAdapter implements Generator.
var _ Generator = (*SoraAdapter)(nil)
