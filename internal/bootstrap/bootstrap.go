// Package bootstrap provides dependency initialization for the dubbing API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/dubflow/dubflow-api/internal/bus"
	"github.com/dubflow/dubflow-api/internal/config"
	"github.com/dubflow/dubflow-api/internal/download"
	"github.com/dubflow/dubflow-api/internal/dubber"
	"github.com/dubflow/dubflow-api/internal/job"
	"github.com/dubflow/dubflow-api/internal/media"
	"github.com/dubflow/dubflow-api/internal/orchestrator"
	"github.com/dubflow/dubflow-api/internal/storage"
	"github.com/dubflow/dubflow-api/internal/workspace"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Repository   job.Repository
	Bus          *bus.Bus
	Workspace    *workspace.Manager
	Orchestrator *orchestrator.Orchestrator
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Progress bus
	eventBus := bus.New(logger,
		bus.WithBufferSize(cfg.BusBufferSize),
		bus.WithTerminalGrace(cfg.BusTerminalGrace),
	)

	// Per-job workspace
	ws, err := workspace.NewManager(cfg.WorkspaceRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	// Dubbing provider client
	clientOpts := []dubber.ClientOption{dubber.WithAPIKey(cfg.DubbingAPIKey)}
	if cfg.DubbingBaseURL != "" {
		clientOpts = append(clientOpts, dubber.WithBaseURL(cfg.DubbingBaseURL))
	}
	client, err := dubber.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create dubbing client: %w", err)
	}

	// Media tooling
	ffmpeg := media.NewFFmpeg("", "")
	splitter := media.NewFFmpegSplitter(ffmpeg)
	merger := media.NewFFmpegMerger(ffmpeg)

	// Final output publishing, S3 when configured
	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}

	repo := job.NewMemoryRepository()

	orch := orchestrator.New(
		repo,
		eventBus,
		ws,
		download.NewHTTPDownloader(),
		splitter,
		merger,
		client,
		publisher,
		logger,
		orchestrator.Config{
			SegmentDuration: cfg.SegmentDurationSec,
			MaxParallelJobs: cfg.MaxParallelJobs,
			PollInterval:    cfg.DubbingPollInterval,
			AttemptTimeout:  cfg.DubbingAttemptTimeout,
			MaxAttempts:     cfg.DubbingMaxAttempts,
			Retention:       cfg.WorkspaceRetention,
		},
	)

	return &Dependencies{
		Repository:   repo,
		Bus:          eventBus,
		Workspace:    ws,
		Orchestrator: orch,
	}, nil
}

// initPublisher creates the S3 publisher when configured, otherwise a
// local publisher so the final video survives workspace cleanup.
func initPublisher(cfg *config.Config, logger *slog.Logger) (storage.Publisher, error) {
	if !cfg.S3Enabled() {
		publisher, err := storage.NewLocalPublisher("")
		if err != nil {
			return nil, fmt.Errorf("create local publisher: %w", err)
		}
		logger.Info("local publishing configured",
			slog.String("dir", publisher.Dir()),
		)
		return publisher, nil
	}

	s3Cfg := storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		KeyPrefix:       cfg.S3KeyPrefix,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}
	publisher, err := storage.NewS3Publisher(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("create S3 publisher: %w", err)
	}
	logger.Info("S3 publishing configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return publisher, nil
}
