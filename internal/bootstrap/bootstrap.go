// Package bootstrap wires the Sora client, storage and generation service
// from configuration. Both the HTTP server and the CLI start here.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/soragen/internal/config"
	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/history"
	"github.com/maauso/soragen/internal/job"
	"github.com/maauso/soragen/internal/sora"
	"github.com/maauso/soragen/internal/storage"
)

// Dependencies holds all initialized dependencies.
type Dependencies struct {
	Client            *sora.HTTPClient
	Generator         generator.Generator
	History           *history.Store
	Storage           storage.Storage
	GenerationService *job.GenerationService
}

// NewDependencies creates and initializes all dependencies for the application.
// Extra service options (e.g. a progress observer) are applied after the
// configured poll policy.
func NewDependencies(cfg *config.Config, logger *slog.Logger, opts ...job.ServiceOption) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	baseURL, err := cfg.BaseURL()
	if err != nil {
		return nil, err
	}

	client, err := sora.NewClient(baseURL,
		sora.WithAPIKey(cfg.SoraAPIKey),
		sora.WithMaxRetries(cfg.HTTPMaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("create Sora client: %w", err)
	}
	logger.Info("sora client configured",
		slog.String("base_url", client.BaseURL()),
		slog.String("model", cfg.SoraModel),
	)

	gen := generator.NewSoraAdapter(client, cfg.SoraModel)
	hist := history.NewStore(history.WithLimit(cfg.HistoryLimit))
	repo := job.NewMemoryRepository()

	svcOpts := append([]job.ServiceOption{job.WithPollPolicy(cfg.PollPolicy())}, opts...)
	svc := job.NewGenerationService(repo, gen, hist, store, logger, svcOpts...)

	return &Dependencies{
		Client:            client,
		Generator:         gen,
		History:           hist,
		Storage:           store,
		GenerationService: svc,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", localStore.TempDir()),
	)
	return localStore, nil
}
