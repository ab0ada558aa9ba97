package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

// Service is the client for the external object-detection service. The
// detector is a single shared resource (typically one accelerator), so all
// inference calls are serialized through a single-slot gate regardless of
// how many review workers are running.
type Service struct {
	detectorURL string
	http        *http.Client

	// Single-slot inference gate
	slot chan struct{}

	// Retry management
	mu               sync.RWMutex
	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

// NewService creates a detector client instance
func NewService(cfg *config.Config) (*Service, error) {
	log.Info().Str("url", cfg.DetectorURL).Msg("Initializing detection service client")

	s := &Service{
		detectorURL: strings.TrimRight(cfg.DetectorURL, "/"),
		http: &http.Client{
			Timeout: cfg.DetectorTimeout,
		},
		slot:            make(chan struct{}, 1),
		maxRetryBackoff: 30 * time.Second, // Maximum backoff time
	}

	// Probe availability but don't fail startup if the detector is down;
	// the pipeline records inconclusive outcomes and retries.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("Detection service not available, will retry later")
	} else {
		log.Info().Msg("Detection service health check passed")
	}

	return s, nil
}

// detectResponse mirrors the detector's JSON response shape
type detectResponse struct {
	Success     bool    `json:"success"`
	Error       string  `json:"error,omitempty"`
	InferenceMs int64   `json:"inferenceMs,omitempty"`
	ModuleName  string  `json:"moduleName,omitempty"`
	Predictions []struct {
		Label      string  `json:"label"`
		Confidence float32 `json:"confidence"`
		XMin       float32 `json:"x_min"`
		YMin       float32 `json:"y_min"`
		XMax       float32 `json:"x_max"`
		YMax       float32 `json:"y_max"`
	} `json:"predictions"`
}

// Detect runs single-image inference. The call queues on the inference
// slot first, so a slow model never sees concurrent requests.
func (s *Service) Detect(ctx context.Context, image []byte) (*models.DetectionResult, error) {
	if len(image) == 0 {
		return nil, &models.InferenceError{Err: fmt.Errorf("empty image")}
	}

	if !s.shouldRetry() {
		return nil, &models.InferenceError{Err: fmt.Errorf("in backoff period after consecutive failures")}
	}

	select {
	case s.slot <- struct{}{}:
		defer func() { <-s.slot }()
	case <-ctx.Done():
		return nil, models.Transient("detect", ctx.Err())
	}

	start := time.Now()
	resp, err := s.post(ctx, image)
	if err != nil {
		s.recordFailure()
		return nil, err
	}

	if !resp.Success {
		s.recordFailure()
		msg := resp.Error
		if msg == "" {
			msg = "detector reported failure"
		}
		return nil, &models.InferenceError{Err: fmt.Errorf("%s", msg)}
	}

	// Reset failure count on successful inference
	s.mu.Lock()
	s.consecutiveFails = 0
	s.mu.Unlock()

	result := &models.DetectionResult{
		Detections:    make([]models.Detection, 0, len(resp.Predictions)),
		ModelName:     resp.ModuleName,
		InferenceTime: time.Since(start),
	}
	for _, p := range resp.Predictions {
		result.Detections = append(result.Detections, models.Detection{
			Label:      p.Label,
			Confidence: p.Confidence,
			Box:        []float32{p.XMin, p.YMin, p.XMax, p.YMax},
		})
	}

	log.Debug().
		Int("detections", len(result.Detections)).
		Dur("inference_time", result.InferenceTime).
		Msg("Detection completed")

	return result, nil
}

func (s *Service) post(ctx context.Context, image []byte) (*detectResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", "snapshot.jpg")
	if err != nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("build request body: %w", err)}
	}
	if _, err := part.Write(image); err != nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("build request body: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("build request body: %w", err)}
	}

	endpoint := s.detectorURL + "/v1/vision/detection"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, &models.InferenceError{Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, models.Transient("detect", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient("detect", err)
	}

	if resp.StatusCode >= 500 {
		return nil, models.Transient("detect", fmt.Errorf("detector returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.InferenceError{Err: fmt.Errorf("detector returned status %d", resp.StatusCode)}
	}

	var decoded detectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &models.InferenceError{Err: fmt.Errorf("decode response: %w", err)}
	}

	return &decoded, nil
}

// HealthCheck probes the detector endpoint
func (s *Service) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.detectorURL+"/", nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("detection service health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("detection service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// shouldRetry determines if we should attempt inference based on exponential backoff
func (s *Service) shouldRetry() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.consecutiveFails == 0 {
		return true
	}

	// Exponential backoff: 1s, 2s, 4s, 8s, 16s, 30s (max)
	backoffDuration := time.Duration(1<<uint(s.consecutiveFails-1)) * time.Second
	if backoffDuration > s.maxRetryBackoff {
		backoffDuration = s.maxRetryBackoff
	}

	return time.Since(s.lastFailTime) >= backoffDuration
}

// recordFailure records a detector failure for backoff calculation
func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveFails++
	s.lastFailTime = time.Now()

	if s.consecutiveFails <= 5 {
		log.Warn().
			Int("consecutive_fails", s.consecutiveFails).
			Msg("Detector failure recorded")
	}
}

func (s *Service) Shutdown(ctx context.Context) error {
	s.http.CloseIdleConnections()
	return nil
}
