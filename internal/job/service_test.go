package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/history"
	"github.com/maauso/soragen/internal/sora"
	"github.com/maauso/soragen/internal/storage"
)

// fakeGenerator replays a scripted list of poll results.
type fakeGenerator struct {
	mu        sync.Mutex
	submitErr error
	polls     []generator.JobStatus
	pollErr   error
	video     string
	submitted []generator.Request
	polled    int
}

func (g *fakeGenerator) Submit(_ context.Context, req generator.Request) (generator.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, req)
	if g.submitErr != nil {
		return generator.Handle{}, g.submitErr
	}
	return generator.Handle{ID: "remote-1"}, nil
}

func (g *fakeGenerator) Poll(_ context.Context, _ generator.Handle) (generator.JobStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pollErr != nil {
		g.polled++
		return generator.JobStatus{}, g.pollErr
	}
	st := g.polls[min(g.polled, len(g.polls)-1)]
	g.polled++
	return st, nil
}

func (g *fakeGenerator) DownloadOutput(_ context.Context, _ string, w io.Writer) error {
	_, err := io.WriteString(w, g.video)
	return err
}

func (g *fakeGenerator) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polled
}

// s3Stub stores temp files locally and pretends uploads succeed.
type s3Stub struct {
	*storage.LocalStorage
	uploaded map[string]string
	err      error
}

func (s *s3Stub) UploadToS3(_ context.Context, key string, data io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	s.uploaded[key] = string(b)
	return "https://bucket.example.com/" + key, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() ServiceOption {
	return WithPollPolicy(generator.PollPolicy{Interval: time.Millisecond, MaxAttempts: 20})
}

func newTestService(gen generator.Generator, store storage.Storage, opts ...ServiceOption) (*GenerationService, *MemoryRepository) {
	repo := NewMemoryRepository()
	opts = append([]ServiceOption{fastPolicy()}, opts...)
	return NewGenerationService(repo, gen, history.NewStore(), store, discardLogger(), opts...), repo
}

func succeeded(url string) generator.JobStatus {
	return generator.JobStatus{State: generator.StatusSucceeded, Progress: 100, ResultURL: url}
}

func TestNewGenerationService_Defaults(t *testing.T) {
	svc := NewGenerationService(NewMemoryRepository(), &fakeGenerator{}, nil, nil, nil)

	assert.NotNil(t, svc.History())
	assert.Equal(t, generator.DefaultPollPolicy(), svc.policy)
	assert.NotNil(t, svc.logger)
}

func TestGenerationService_CreateJob(t *testing.T) {
	svc, repo := newTestService(&fakeGenerator{}, nil)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, Input{Prompt: "  a cat  ", ReferenceImage: "data:image/png;base64,AAAA"})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "a cat", job.Prompt)
	assert.Equal(t, generator.DefaultAspectRatio, job.AspectRatio)
	assert.Equal(t, generator.DefaultDuration, job.Duration)
	assert.Equal(t, generator.DefaultResolution, job.Resolution)
	assert.True(t, job.UsedReferenceImage)

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestGenerationService_CreateJob_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		input   Input
		wantErr error
	}{
		{"empty prompt", Input{Prompt: "   "}, generator.ErrEmptyPrompt},
		{"bad duration", Input{Prompt: "a cat", Duration: 7}, generator.ErrInvalidRequest},
		{"bad aspect ratio", Input{Prompt: "a cat", AspectRatio: "2:1"}, generator.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService(&fakeGenerator{}, nil)

			_, err := svc.CreateJob(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.wantErr)

			jobs, _ := repo.List(context.Background())
			assert.Empty(t, jobs)
		})
	}
}

func TestGenerationService_Run_Succeeded(t *testing.T) {
	gen := &fakeGenerator{polls: []generator.JobStatus{
		{State: generator.StatusPending},
		{State: generator.StatusRunning, Progress: 40},
		succeeded("https://x/video.mp4"),
	}}
	svc, repo := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Duration: 5})
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, "remote-1", out.RemoteID)
	assert.Equal(t, "https://x/video.mp4", out.ResultURL)
	assert.Empty(t, out.Warning)
	assert.Empty(t, out.Error)

	require.Len(t, gen.submitted, 1)
	assert.Equal(t, 5, gen.submitted[0].Duration)

	records := svc.History().List()
	require.Len(t, records, 1)
	assert.Equal(t, "a cat", records[0].Prompt)
	assert.Equal(t, "https://x/video.mp4", records[0].ResultURL)
	assert.False(t, records[0].UsedReferenceImage)

	stored, err := repo.FindByID(context.Background(), out.JobID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)
	assert.False(t, stored.CompletedAt.IsZero())
}

func TestGenerationService_Run_EmptyPromptNeverSubmits(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: ""})

	require.ErrorIs(t, err, generator.ErrEmptyPrompt)
	assert.Nil(t, out)
	assert.Empty(t, gen.submitted)
	assert.Equal(t, 0, svc.History().Len())
}

func TestGenerationService_Run_SubmitFailureSkipsPolling(t *testing.T) {
	gen := &fakeGenerator{submitErr: errors.New("submission rejected")}
	svc, repo := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat"})

	require.Error(t, err)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "submission rejected", out.Error)
	assert.Equal(t, 0, gen.pollCount())
	assert.Equal(t, 0, svc.History().Len())

	stored, _ := repo.FindByID(context.Background(), out.JobID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Empty(t, stored.RemoteID)
}

func TestGenerationService_Run_RemoteFailure(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   string
	}{
		{"with reason", "content policy violation", "content policy violation"},
		{"without reason", "", generator.DefaultFailureReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{polls: []generator.JobStatus{
				{State: generator.StatusRunning, Progress: 10},
				{State: generator.StatusFailed, FailureReason: tt.reason},
			}}
			svc, _ := newTestService(gen, nil)

			out, err := svc.Run(context.Background(), Input{Prompt: "a cat"})

			require.ErrorIs(t, err, generator.ErrJobFailed)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, tt.want, out.Error)
			assert.Equal(t, 0, svc.History().Len())
		})
	}
}

func TestGenerationService_Run_PollTransportError(t *testing.T) {
	gen := &fakeGenerator{pollErr: errors.New("connection reset")}
	svc, _ := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat"})

	require.ErrorIs(t, err, generator.ErrPollTransport)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Error, "connection reset")
}

func TestGenerationService_Run_MissingResultWarns(t *testing.T) {
	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("")}}
	svc, _ := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Archive: true})

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, warnNoResult, out.Warning)
	assert.Empty(t, out.ResultURL)
	assert.Equal(t, 0, svc.History().Len())
}

func TestGenerationService_Run_ContextCancelled(t *testing.T) {
	gen := &fakeGenerator{polls: []generator.JobStatus{{State: generator.StatusRunning}}}
	svc, repo := newTestService(gen, nil,
		WithPollPolicy(generator.PollPolicy{Interval: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out, err := svc.Run(ctx, Input{Prompt: "a cat"})

	require.ErrorIs(t, err, context.Canceled)
	stored, _ := repo.FindByID(context.Background(), out.JobID)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestGenerationService_Run_ArchiveLocal(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("https://x/video.mp4")}, video: "mp4 bytes"}
	svc, _ := newTestService(gen, local)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Archive: true})
	require.NoError(t, err)

	require.NotEmpty(t, out.VideoPath)
	assert.Empty(t, out.ArchivedURL)
	assert.Empty(t, out.Warning)
	content, err := os.ReadFile(out.VideoPath)
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(content))
	assert.True(t, strings.HasSuffix(out.VideoPath, ".mp4"))
}

func TestGenerationService_Run_ArchiveS3(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	stub := &s3Stub{LocalStorage: local, uploaded: map[string]string{}}

	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("https://x/video.mp4")}, video: "mp4 bytes"}
	svc, _ := newTestService(gen, stub)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Archive: true})
	require.NoError(t, err)

	key := "videos/" + out.JobID + ".mp4"
	assert.Equal(t, "https://bucket.example.com/"+key, out.ArchivedURL)
	assert.Equal(t, "mp4 bytes", stub.uploaded[key])
	assert.Empty(t, out.VideoPath)

	entries, err := os.ReadDir(local.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be cleaned up after upload")
}

func TestGenerationService_Run_ArchiveFailureIsWarning(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	stub := &s3Stub{LocalStorage: local, err: errors.New("access denied")}

	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("https://x/video.mp4")}, video: "mp4"}
	svc, _ := newTestService(gen, stub)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Archive: true})

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Contains(t, out.Warning, "access denied")
	assert.Equal(t, 1, svc.History().Len())
}

func TestGenerationService_Run_ArchiveWithoutStorage(t *testing.T) {
	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("https://x/video.mp4")}}
	svc, _ := newTestService(gen, nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat", Archive: true})

	require.NoError(t, err)
	assert.NotEmpty(t, out.Warning)
}

func TestGenerationService_Observer(t *testing.T) {
	gen := &fakeGenerator{polls: []generator.JobStatus{
		{State: generator.StatusRunning, Progress: 30},
		{State: generator.StatusRunning, Progress: 70},
		succeeded("https://x/video.mp4"),
	}}

	var mu sync.Mutex
	var seen []*Job
	svc, _ := newTestService(gen, nil, WithObserver(func(j *Job) {
		mu.Lock()
		seen = append(seen, j)
		mu.Unlock()
	}))

	_, err := svc.Run(context.Background(), Input{Prompt: "a cat"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 4)
	assert.Equal(t, StatusRunning, seen[0].Status)
	assert.Equal(t, 30, seen[1].Progress)
	assert.Equal(t, 70, seen[2].Progress)
	assert.Equal(t, StatusSucceeded, seen[len(seen)-1].Status)
}

func TestGenerationService_GetAndListJobs(t *testing.T) {
	svc, _ := newTestService(&fakeGenerator{}, nil)
	ctx := context.Background()

	a, err := svc.CreateJob(ctx, Input{Prompt: "first"})
	require.NoError(t, err)
	_, err = svc.CreateJob(ctx, Input{Prompt: "second"})
	require.NoError(t, err)

	got, err := svc.GetJob(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Prompt)

	_, err = svc.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestGenerationService_DeleteJob(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	gen := &fakeGenerator{polls: []generator.JobStatus{succeeded("https://x/video.mp4")}, video: "mp4 bytes"}
	svc, repo := newTestService(gen, local)
	ctx := context.Background()

	out, err := svc.Run(ctx, Input{Prompt: "a cat", Archive: true})
	require.NoError(t, err)
	require.NotEmpty(t, out.VideoPath)

	require.NoError(t, svc.DeleteJob(ctx, out.JobID))

	_, err = repo.FindByID(ctx, out.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = os.Stat(out.VideoPath)
	assert.ErrorIs(t, err, os.ErrNotExist, "archived video is removed with the job")
	assert.Equal(t, 1, svc.History().Len(), "history outlives the job")

	assert.ErrorIs(t, svc.DeleteJob(ctx, out.JobID), ErrJobNotFound)
}

func TestGenerationService_DeleteJob_RefusesActiveJob(t *testing.T) {
	svc, repo := newTestService(&fakeGenerator{}, nil)
	ctx := context.Background()

	pending, err := svc.CreateJob(ctx, Input{Prompt: "a cat"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteJob(ctx, pending.ID), ErrJobActive)
	_, err = repo.FindByID(ctx, pending.ID)
	assert.NoError(t, err)
}

// TestGenerationService_EndToEnd drives the HTTP client against a stub of the
// remote API that completes on the first poll.
func TestGenerationService_EndToEnd(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/video/sora-video":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a cat", body["prompt"])
			_, _ = io.WriteString(w, `{"id":"abc"}`)
		case "/v1/draw/result":
			polls.Add(1)
			_, _ = io.WriteString(w, `{"status":"succeeded","results":[{"url":"https://x/video.mp4"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := sora.NewClient(srv.URL, sora.WithAPIKey("k"))
	require.NoError(t, err)
	svc, _ := newTestService(generator.NewSoraAdapter(client, ""), nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat"})
	require.NoError(t, err)

	assert.Equal(t, "abc", out.RemoteID)
	assert.Equal(t, "https://x/video.mp4", out.ResultURL)
	assert.Equal(t, int32(1), polls.Load())

	records := svc.History().List()
	require.Len(t, records, 1)
	assert.Equal(t, "https://x/video.mp4", records[0].ResultURL)
}

func TestGenerationService_EndToEnd_SubmitServerError(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/draw/result" {
			polls.Add(1)
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "server error")
	}))
	defer srv.Close()

	client, err := sora.NewClient(srv.URL, sora.WithAPIKey("k"))
	require.NoError(t, err)
	svc, _ := newTestService(generator.NewSoraAdapter(client, ""), nil)

	out, err := svc.Run(context.Background(), Input{Prompt: "a cat"})

	require.ErrorIs(t, err, sora.ErrSubmitFailed)
	var subErr *sora.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, http.StatusInternalServerError, subErr.StatusCode)
	assert.Contains(t, subErr.Body, "server error")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, int32(0), polls.Load())
	assert.Equal(t, 0, svc.History().Len())
}
