// Package main is a one-shot command line client: it submits one generation,
// follows it to completion and prints (or downloads) the result.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maauso/soragen/internal/bootstrap"
	"github.com/maauso/soragen/internal/config"
	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/job"
	"github.com/maauso/soragen/internal/sora"
)

// errMissingCredential is returned when no API key is configured or typed in.
var errMissingCredential = errors.New("soragen: an API key is required")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type options struct {
	prompt      string
	aspectRatio string
	duration    int
	resolution  string
	image       string
	endpoint    string
	baseURL     string
	model       string
	out         string
	envFile     string
	interval    time.Duration
	timeout     time.Duration
	archive     bool
	verbose     bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("soragen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: soragen [flags] [prompt words...]\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&o.prompt, "prompt", "", "text description of the video (default: remaining arguments)")
	fs.StringVar(&o.aspectRatio, "aspect", generator.DefaultAspectRatio, "aspect ratio: 16:9, 9:16, 1:1 or 4:3")
	fs.IntVar(&o.duration, "duration", generator.DefaultDuration, "clip length in seconds: 5, 10 or 15")
	fs.StringVar(&o.resolution, "resolution", generator.DefaultResolution, "output size: 1080p, 720p or small")
	fs.StringVar(&o.image, "image", "", "path to a reference image")
	fs.StringVar(&o.endpoint, "endpoint", "", "gateway name: "+strings.Join(sora.EndpointNames(), ", ")+" (default from SORA_ENDPOINT)")
	fs.StringVar(&o.baseURL, "base-url", "", "explicit API base URL, overrides -endpoint")
	fs.StringVar(&o.model, "model", "", "model name (default from SORA_MODEL)")
	fs.StringVar(&o.out, "out", "", "download the finished video to this file")
	fs.StringVar(&o.envFile, "env-file", config.DefaultDotEnvFile, "dotenv file read before the environment")
	fs.DurationVar(&o.interval, "interval", 0, "poll interval (default from POLL_INTERVAL)")
	fs.DurationVar(&o.timeout, "timeout", 0, "give up polling after this long (default from POLL_TIMEOUT)")
	fs.BoolVar(&o.archive, "archive", false, "copy the finished video into configured storage")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.prompt == "" {
		o.prompt = strings.Join(fs.Args(), " ")
	}
	return &o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFile(opts.envFile)
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)

	if cfg.SoraAPIKey == "" {
		key, err := promptLine(stdin, stdout, "Enter your API key: ")
		if err != nil {
			return err
		}
		if key == "" {
			return errMissingCredential
		}
		cfg.SoraAPIKey = key
	}

	var referenceImage string
	if opts.image != "" {
		data, err := os.ReadFile(opts.image)
		if err != nil {
			return fmt.Errorf("read reference image: %w", err)
		}
		referenceImage = generator.EncodeDataURI(data)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLoggerTo(stderr)
	deps, err := bootstrap.NewDependencies(cfg, logger, job.WithObserver(progressPrinter(stdout)))
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Submitting to %s ...\n", deps.Client.BaseURL())
	out, err := deps.GenerationService.Run(ctx, job.Input{
		Prompt:         opts.prompt,
		AspectRatio:    opts.aspectRatio,
		Duration:       opts.duration,
		Resolution:     opts.resolution,
		ReferenceImage: referenceImage,
		Archive:        opts.archive,
	})
	if err != nil {
		return describeFailure(err)
	}

	if out.Warning != "" {
		fmt.Fprintf(stdout, "Warning: %s\n", out.Warning)
	}
	if out.ResultURL == "" {
		return nil
	}
	fmt.Fprintf(stdout, "Video URL: %s\n", out.ResultURL)
	switch {
	case out.ArchivedURL != "":
		fmt.Fprintf(stdout, "Archived to %s\n", out.ArchivedURL)
	case out.VideoPath != "":
		fmt.Fprintf(stdout, "Archived to %s\n", out.VideoPath)
	}

	if opts.out != "" {
		if err := download(ctx, deps.Generator, out.ResultURL, opts.out); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved %s\n", opts.out)
	}
	return nil
}

// applyFlags lets explicit flags override file and environment settings.
// Without -v or LOG_LEVEL the CLI only logs warnings.
func applyFlags(cfg *config.Config, o *options) {
	if o.endpoint != "" {
		cfg.SoraEndpoint = o.endpoint
		cfg.SoraBaseURL = ""
	}
	if o.baseURL != "" {
		cfg.SoraBaseURL = o.baseURL
	}
	if o.model != "" {
		cfg.SoraModel = o.model
	}
	if o.interval > 0 {
		cfg.PollInterval = o.interval
	}
	if o.timeout > 0 {
		cfg.PollTimeout = o.timeout
	}
	switch {
	case o.verbose:
		cfg.LogLevel = "debug"
	case cfg.LogLevel == "":
		cfg.LogLevel = "warn"
	}
}

func promptLine(stdin io.Reader, stdout io.Writer, label string) (string, error) {
	fmt.Fprint(stdout, label)
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func progressPrinter(w io.Writer) func(*job.Job) {
	return func(j *job.Job) {
		switch j.Status {
		case job.StatusRunning:
			fmt.Fprintf(w, "Job %s running: %d%%\n", j.RemoteID, j.Progress)
		case job.StatusSucceeded:
			fmt.Fprintf(w, "Job %s succeeded\n", j.RemoteID)
		}
	}
}

func describeFailure(err error) error {
	var subErr *sora.SubmissionError
	var jobErr *generator.JobFailedError
	switch {
	case errors.Is(err, generator.ErrEmptyPrompt):
		return fmt.Errorf("a prompt is required: %w", err)
	case errors.As(err, &subErr):
		return fmt.Errorf("submission rejected: %w", err)
	case errors.As(err, &jobErr):
		return fmt.Errorf("generation failed: %s", jobErr.Reason)
	case errors.Is(err, context.Canceled):
		return errors.New("cancelled")
	default:
		return err
	}
}

func download(ctx context.Context, gen generator.Generator, url, path string) error {
	f, err := os.Create(path) // #nosec G304 - path is supplied by the user
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := gen.DownloadOutput(ctx, url, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("download video: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
