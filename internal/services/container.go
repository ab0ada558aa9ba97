package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/helpers"
	"frigate-reviewer-go/internal/models"
	"frigate-reviewer-go/internal/services/archive"
	"frigate-reviewer-go/internal/services/decision"
	"frigate-reviewer-go/internal/services/dedup"
	"frigate-reviewer-go/internal/services/detection"
	"frigate-reviewer-go/internal/services/frigate"
	"frigate-reviewer-go/internal/services/messaging"
	"frigate-reviewer-go/internal/services/review"
)

// ServiceContainer holds all services
type ServiceContainer struct {
	Config       *config.Config
	Store        *dedup.Store
	Frigate      *frigate.Client
	DetectionSvc *detection.Service
	MessagingSvc *messaging.Service
	ArchiveSvc   *archive.Service
	ReviewSvc    *review.Service
}

// NewServiceContainer creates a new service container
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	store, err := dedup.Open(cfg.DedupDBPath, cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	frigateClient := frigate.NewClient(cfg)

	detectionSvc, err := detection.NewService(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	engine := decision.NewEngine(cfg.ConfidenceThreshold, cfg.LabelEquivalence)

	var publisher models.MessagePublisher
	var messagingSvc *messaging.Service
	if cfg.NatsEnabled {
		messagingSvc, err = messaging.NewService(cfg)
		if err != nil {
			// Verdict notifications are best-effort; the pipeline runs without them
			log.Warn().Err(err).Msg("NATS unavailable, verdict notifications disabled")
		} else {
			publisher = messagingSvc
		}
	}

	var archiveSvc *archive.Service
	var archiver review.Archiver
	if cfg.ArchiveEnabled {
		archiveSvc, err = archive.NewService(cfg)
		if err != nil {
			store.Close()
			return nil, err
		}
		archiver = archiveSvc
	}

	var prepare review.SnapshotPreparer
	if cfg.SnapshotDownscaleEnabled {
		prepare = helpers.NewSnapshotPreparer(cfg)
	}

	reviewSvc, err := review.NewService(cfg, review.Deps{
		Events:    frigateClient,
		Snapshots: frigateClient,
		Reviewer:  frigateClient,
		Detector:  detectionSvc,
		Engine:    engine,
		Store:     store,
		Publisher: publisher,
		Prepare:   prepare,
		Archive:   archiver,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &ServiceContainer{
		Config:       cfg,
		Store:        store,
		Frigate:      frigateClient,
		DetectionSvc: detectionSvc,
		MessagingSvc: messagingSvc,
		ArchiveSvc:   archiveSvc,
		ReviewSvc:    reviewSvc,
	}, nil
}

// Start launches the review pipeline
func (sc *ServiceContainer) Start() error {
	return sc.ReviewSvc.Start()
}

// Shutdown gracefully shuts down all services. The pipeline drains first so
// nothing publishes or writes after its backends close.
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	if sc.ReviewSvc != nil {
		if err := sc.ReviewSvc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Review pipeline shutdown error")
		}
	}

	if sc.MessagingSvc != nil {
		if err := sc.MessagingSvc.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Messaging shutdown error")
		}
	}

	if sc.DetectionSvc != nil {
		sc.DetectionSvc.Shutdown(ctx)
	}

	if sc.Store != nil {
		if err := sc.Store.Close(); err != nil {
			log.Error().Err(err).Msg("Dedup store close error")
		}
	}

	return nil
}
