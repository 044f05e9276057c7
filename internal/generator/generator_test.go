package generator

import (
	"errors"
	"testing"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"pending not terminal", StatusPending, false},
		{"running not terminal", StatusRunning, false},
		{"succeeded is terminal", StatusSucceeded, true},
		{"failed is terminal", StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("Status.IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobStatus_ResultMissing(t *testing.T) {
	if !(JobStatus{State: StatusSucceeded}).ResultMissing() {
		t.Error("expected succeeded without URL to report missing result")
	}
	if (JobStatus{State: StatusSucceeded, ResultURL: "https://x/v.mp4"}).ResultMissing() {
		t.Error("expected succeeded with URL to have a result")
	}
	if (JobStatus{State: StatusFailed}).ResultMissing() {
		t.Error("failed job should not report missing result")
	}
}

func TestJobFailedError_Is(t *testing.T) {
	err := error(&JobFailedError{JobID: "j1", Reason: "nsfw"})
	if !errors.Is(err, ErrJobFailed) {
		t.Error("expected JobFailedError to match ErrJobFailed")
	}
	if err.Error() != "generator: job j1 failed: nsfw" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
