// Package review contains the orchestrator: event discovery, the bounded
// worker pool and the per-event state machine that drives every alert from
// DISCOVERED to a terminal record.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
	"frigate-reviewer-go/internal/services/decision"
	"frigate-reviewer-go/internal/services/dedup"
)

// EventSource lists candidate events from the platform
type EventSource interface {
	ListEvents(ctx context.Context, since time.Time) ([]models.Event, error)
}

// SnapshotFetcher retrieves an event's representative image
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, event models.Event) ([]byte, error)
}

// Reviewer submits the false-positive review back to the platform
type Reviewer interface {
	MarkFalsePositive(ctx context.Context, eventID string) error
}

// Detector runs single-image inference
type Detector interface {
	Detect(ctx context.Context, image []byte) (*models.DetectionResult, error)
}

// SnapshotPreparer optionally normalizes snapshot bytes before inference
type SnapshotPreparer func(image []byte) ([]byte, error)

// Archiver optionally persists reviewed snapshots and decision detail
type Archiver interface {
	SaveReview(event models.Event, snapshot []byte, verdict models.Verdict, result *models.DetectionResult, reason string) error
}

// Service is the review pipeline orchestrator
type Service struct {
	cfg       *config.Config
	events    EventSource
	snapshots SnapshotFetcher
	reviewer  Reviewer
	detector  Detector
	engine    *decision.Engine
	store     *dedup.Store
	publisher models.MessagePublisher // optional
	prepare   SnapshotPreparer        // optional
	archive   Archiver                // optional

	discCtx    context.Context
	discCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc

	queue chan claimedEvent
	wg    sync.WaitGroup
	fatal chan error

	mu       sync.RWMutex
	lastPoll time.Time
	started  bool
}

type claimedEvent struct {
	event  models.Event
	record *models.ProcessedRecord
}

// Deps bundles the orchestrator's collaborators
type Deps struct {
	Events    EventSource
	Snapshots SnapshotFetcher
	Reviewer  Reviewer
	Detector  Detector
	Engine    *decision.Engine
	Store     *dedup.Store
	Publisher models.MessagePublisher
	Prepare   SnapshotPreparer
	Archive   Archiver
}

// NewService creates the orchestrator
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Events == nil || deps.Snapshots == nil || deps.Reviewer == nil {
		return nil, fmt.Errorf("platform client is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("decision engine is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("dedup store is required")
	}

	discCtx, discCancel := context.WithCancel(context.Background())
	runCtx, runCancel := context.WithCancel(context.Background())

	workers := cfg.ReviewWorkers
	if workers < 1 {
		workers = 1
	}

	return &Service{
		cfg:        cfg,
		events:     deps.Events,
		snapshots:  deps.Snapshots,
		reviewer:   deps.Reviewer,
		detector:   deps.Detector,
		engine:     deps.Engine,
		store:      deps.Store,
		publisher:  deps.Publisher,
		prepare:    deps.Prepare,
		archive:    deps.Archive,
		discCtx:    discCtx,
		discCancel: discCancel,
		runCtx:     runCtx,
		runCancel:  runCancel,
		queue:      make(chan claimedEvent, workers*2),
		fatal:      make(chan error, 1),
	}, nil
}

// Fatal delivers the first unrecoverable error (credential rejection,
// storage corruption). The process should stop when it fires.
func (s *Service) Fatal() <-chan error {
	return s.fatal
}

// Start launches the worker pool and the discovery loop
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("review service already started")
	}
	s.started = true
	s.mu.Unlock()

	// Claims left in-progress by a crash were never recorded terminal;
	// release them so this run retries.
	if _, err := s.store.ReleaseStale(s.runCtx); err != nil {
		return fmt.Errorf("failed to recover dedup store: %w", err)
	}

	workers := cap(s.queue) / 2
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	go s.discoveryLoop()

	log.Info().
		Int("workers", workers).
		Dur("poll_interval", s.cfg.PollInterval).
		Msg("Review pipeline started")
	return nil
}

// Shutdown stops discovery, lets in-flight workers finish within the grace
// period, then cancels whatever is still running.
func (s *Service) Shutdown(ctx context.Context) error {
	s.discCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Review pipeline drained")
	case <-ctx.Done():
		log.Warn().Msg("Grace period expired, cancelling in-flight reviews")
		s.runCancel()
		<-done
	}

	s.runCancel()
	return nil
}

// Status reports pipeline liveness for the operator API
func (s *Service) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"queue_depth": len(s.queue),
		"last_poll":   s.lastPoll,
		"lookback":    s.cfg.PollLookback.String(),
	}
}

// discoveryLoop polls for candidate events on a fixed interval. The pass is
// synchronous, so polls never overlap; worker processing drains separately.
func (s *Service) discoveryLoop() {
	defer close(s.queue)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.discover()

	for {
		select {
		case <-s.discCtx.Done():
			log.Info().Msg("Discovery loop stopped")
			return
		case <-ticker.C:
			s.discover()
		}
	}
}

func (s *Service) discover() {
	// Fixed lookback window every pass. Frigate's `after` filter is strict
	// on start_time, so an advancing cursor would leave events that still
	// need retrying (or that had not ended yet) permanently behind it.
	// The dedup store keeps re-listed events cheap to skip.
	since := time.Now().Add(-s.cfg.PollLookback)

	events, err := s.events.ListEvents(s.discCtx, since)
	if err != nil {
		if errors.Is(err, models.ErrAuth) {
			s.reportFatal(fmt.Errorf("event discovery: %w", err))
			return
		}
		log.Error().Err(err).Msg("Event discovery failed, will retry next cycle")
		return
	}

	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()

	enqueued := 0
	for _, event := range events {
		claim, err := s.store.Claim(s.discCtx, event)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Claim failed")
			continue
		}
		if !claim.Claimed {
			continue
		}

		if !s.enqueue(claimedEvent{event: event, record: claim.Record}) {
			return
		}
		enqueued++
	}

	// Pending rows whose events already aged out of the listing window,
	// including operator requeues, are resumed from the store.
	resumed := s.resumePending()

	if enqueued > 0 || resumed > 0 {
		log.Info().
			Int("candidates", len(events)).
			Int("enqueued", enqueued).
			Int("resumed", resumed).
			Msg("Discovery pass completed")
	}

	// Lazy retention pruning rides the discovery cadence
	cutoff := time.Now().Add(-s.cfg.RetentionWindow)
	if removed, err := s.store.Prune(s.discCtx, cutoff); err != nil {
		log.Error().Err(err).Msg("Retention pruning failed")
	} else if removed > 0 {
		log.Info().Int64("removed", removed).Msg("Pruned expired records")
	}
}

// enqueue hands a claimed event to the worker pool. Returns false when
// shutdown interrupts the hand-off; the claim is released so the next run
// picks the event up again.
func (s *Service) enqueue(ce claimedEvent) bool {
	select {
	case s.queue <- ce:
		return true
	case <-s.discCtx.Done():
		s.releaseClaim(ce.event.ID, "shutdown before processing")
		return false
	}
}

// resumePending claims retry-eligible rows straight from the dedup store.
// The event feed alone cannot drive retries: an event needing another
// attempt may no longer be listed, and a requeued one may be long gone.
func (s *Service) resumePending() int {
	records, err := s.store.ListRecords(s.discCtx, dedup.RecordFilters{
		Status: models.StatusPending,
		Limit:  s.cfg.PageLimit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending records")
		return 0
	}

	resumed := 0
	for _, rec := range records {
		event := models.Event{ID: rec.EventID, Camera: rec.Camera, Label: rec.Label}

		claim, err := s.store.Claim(s.discCtx, event)
		if err != nil {
			log.Error().Err(err).Str("event_id", rec.EventID).Msg("Claim failed")
			continue
		}
		if !claim.Claimed {
			continue
		}

		if !s.enqueue(claimedEvent{event: event, record: claim.Record}) {
			return resumed
		}
		resumed++
	}

	return resumed
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for claimed := range s.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_id", claimed.event.ID).
						Msg("Review worker panic")
					s.releaseClaim(claimed.event.ID, fmt.Sprintf("panic: %v", r))
				}
			}()
			s.processEvent(claimed)
		}()
	}

	log.Debug().Int("worker", id).Msg("Review worker stopped")
}

// processEvent drives one claimed event through the state machine:
// DISCOVERED -> SNAPSHOT_FETCHED -> DETECTED -> DECIDED -> MARKED/SKIPPED,
// or FAILED along any edge.
func (s *Service) processEvent(claimed claimedEvent) {
	event := claimed.event
	logger := log.With().
		Str("event_id", event.ID).
		Str("camera", event.Camera).
		Str("label", event.Label).
		Int("attempt", claimed.record.Attempts).
		Logger()

	// A cached false-positive verdict from a prior attempt means inference
	// already disagreed; only the review submission is outstanding.
	if claimed.record.CachedVerdict == models.VerdictFalsePositive {
		logger.Info().Msg("Resuming with cached verdict, skipping inference")
		s.submitFalsePositive(event, nil, "cached verdict from prior attempt", claimed.record.Attempts)
		return
	}

	// SNAPSHOT_FETCHED
	fetchCtx, cancel := context.WithTimeout(s.runCtx, s.cfg.FrigateTimeout)
	snapshot, err := s.snapshots.FetchSnapshot(fetchCtx, event)
	cancel()
	if err != nil {
		s.handleStageError(event, "fetch snapshot", err)
		return
	}

	if s.prepare != nil {
		prepared, err := s.prepare(snapshot)
		if err != nil {
			logger.Warn().Err(err).Msg("Snapshot preparation failed, using original bytes")
		} else {
			snapshot = prepared
		}
	}

	// DETECTED
	detectCtx, cancel := context.WithTimeout(s.runCtx, s.cfg.DetectorTimeout)
	result, err := s.detector.Detect(detectCtx, snapshot)
	cancel()
	if err != nil {
		s.handleStageError(event, "detect", err)
		return
	}

	// DECIDED
	outcome := s.engine.Decide(event.Label, result)
	detections := 0
	if result != nil {
		detections = len(result.Detections)
	}
	logger.Info().
		Str("verdict", string(outcome.Verdict)).
		Str("reason", outcome.Reason).
		Int("detections", detections).
		Msg("Verdict decided")

	switch outcome.Verdict {
	case models.VerdictConfirmed:
		// SKIPPED: original detection corroborated, no review call
		err := s.store.RecordOutcome(s.runCtx, event.ID, dedup.Outcome{
			Verdict:  models.VerdictConfirmed,
			Terminal: true,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record confirmed outcome")
			return
		}
		s.archiveReview(event, snapshot, models.VerdictConfirmed, result, outcome.Reason)
		s.publishVerdict(event, models.VerdictConfirmed, result, claimed.record.Attempts, false)

	case models.VerdictFalsePositive:
		s.archiveReview(event, snapshot, models.VerdictFalsePositive, result, outcome.Reason)
		s.submitFalsePositive(event, result, outcome.Reason, claimed.record.Attempts)

	default:
		s.recordRetry(event.ID, outcome.Reason)
	}
}

// submitFalsePositive performs the MARKED transition: the review call must
// succeed before the record becomes terminal. On transient failure the
// verdict is cached so the retry goes straight back to this call.
func (s *Service) submitFalsePositive(event models.Event, result *models.DetectionResult, reason string, attempts int) {
	markCtx, cancel := context.WithTimeout(s.runCtx, s.cfg.MarkTimeout)
	err := s.reviewer.MarkFalsePositive(markCtx, event.ID)
	cancel()

	if err == nil {
		recErr := s.store.RecordOutcome(s.runCtx, event.ID, dedup.Outcome{
			Verdict:  models.VerdictFalsePositive,
			Terminal: true,
		})
		if recErr != nil {
			log.Error().Err(recErr).Str("event_id", event.ID).Msg("Failed to record marked outcome")
			return
		}
		s.publishVerdict(event, models.VerdictFalsePositive, result, attempts, true)
		return
	}

	switch {
	case errors.Is(err, models.ErrAuth):
		s.reportFatal(fmt.Errorf("mark false positive: %w", err))
		s.releaseClaim(event.ID, err.Error())
	case errors.Is(err, models.ErrNotFound):
		// Event no longer exists on the platform; nothing left to mark
		s.recordTerminalFailure(event.ID, models.VerdictFalsePositive, err.Error())
	default:
		// Keep the verdict: only the review call needs retrying
		recErr := s.store.RecordOutcome(s.runCtx, event.ID, dedup.Outcome{
			Verdict:       models.VerdictInconclusive,
			CachedVerdict: models.VerdictFalsePositive,
			LastError:     err.Error(),
		})
		if recErr != nil {
			log.Error().Err(recErr).Str("event_id", event.ID).Msg("Failed to record retry outcome")
		}
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Review submission failed, verdict cached for retry")
	}
}

// handleStageError classifies a snapshot-fetch or inference failure and
// records the appropriate non-terminal or terminal outcome.
func (s *Service) handleStageError(event models.Event, stage string, err error) {
	switch {
	case errors.Is(err, models.ErrAuth):
		s.reportFatal(fmt.Errorf("%s: %w", stage, err))
		s.releaseClaim(event.ID, err.Error())
	case errors.Is(err, models.ErrNotFound):
		// Snapshot expired: the data can never become available
		log.Warn().Err(err).Str("event_id", event.ID).Str("stage", stage).Msg("Snapshot gone, freezing event")
		s.recordTerminalFailure(event.ID, models.VerdictInconclusive, err.Error())
	default:
		log.Warn().Err(err).Str("event_id", event.ID).Str("stage", stage).Msg("Stage failed, eligible for retry")
		s.recordRetry(event.ID, err.Error())
	}
}

func (s *Service) recordRetry(eventID, reason string) {
	err := s.store.RecordOutcome(s.runCtx, eventID, dedup.Outcome{
		Verdict:   models.VerdictInconclusive,
		LastError: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to record retry outcome")
	}
}

func (s *Service) recordTerminalFailure(eventID string, verdict models.Verdict, reason string) {
	err := s.store.RecordOutcome(s.runCtx, eventID, dedup.Outcome{
		Verdict:   verdict,
		Terminal:  true,
		Failed:    true,
		LastError: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to record terminal failure")
	}
}

// releaseClaim returns a claimed event to pending without consuming a verdict
func (s *Service) releaseClaim(eventID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.RecordOutcome(ctx, eventID, dedup.Outcome{
		Verdict:   models.VerdictInconclusive,
		LastError: reason,
	})
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID).Msg("Failed to release claim")
	}
}

func (s *Service) publishVerdict(event models.Event, verdict models.Verdict, result *models.DetectionResult, attempts int, marked bool) {
	if s.publisher == nil {
		return
	}

	payload := models.VerdictPayload{
		EventID:       event.ID,
		Camera:        event.Camera,
		EventLabel:    event.Label,
		Verdict:       verdict,
		Attempts:      attempts,
		MarkSubmitted: marked,
		Timestamp:     time.Now(),
	}
	if result != nil {
		payload.Detections = result.Detections
		payload.ModelName = result.ModelName
	}

	if err := s.publisher.Publish(s.cfg.VerdictsSubject, payload); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to publish verdict notification")
	}
}

func (s *Service) archiveReview(event models.Event, snapshot []byte, verdict models.Verdict, result *models.DetectionResult, reason string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveReview(event, snapshot, verdict, result, reason); err != nil {
		log.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to archive review")
	}
}

func (s *Service) reportFatal(err error) {
	log.Error().Err(err).Msg("Unrecoverable pipeline error")
	select {
	case s.fatal <- err:
	default:
	}
}
