// Package archive persists reviewed snapshots and decision detail on disk
// for operator audit: confirmed events under true/, false positives under
// false/, plus a per-event JSON with the detections behind the verdict.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

type Service struct {
	baseDir string
}

// reviewDetail is the JSON written next to each archived snapshot
type reviewDetail struct {
	EventID    string             `json:"event_id"`
	Camera     string             `json:"camera"`
	EventLabel string             `json:"event_label"`
	Verdict    models.Verdict     `json:"verdict"`
	Reason     string             `json:"reason"`
	Detections []models.Detection `json:"detections"`
	ModelName  string             `json:"model_name,omitempty"`
	ReviewedAt time.Time          `json:"reviewed_at"`
}

func NewService(cfg *config.Config) (*Service, error) {
	for _, sub := range []string{"true", "false", "debug"} {
		if err := os.MkdirAll(filepath.Join(cfg.ArchiveDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	log.Info().Str("dir", cfg.ArchiveDir).Msg("Review archive enabled")
	return &Service{baseDir: cfg.ArchiveDir}, nil
}

// SaveReview writes the snapshot and decision detail for one reviewed event
func (s *Service) SaveReview(event models.Event, snapshot []byte, verdict models.Verdict, result *models.DetectionResult, reason string) error {
	sub := "true"
	if verdict == models.VerdictFalsePositive {
		sub = "false"
	}

	imagePath := filepath.Join(s.baseDir, sub, event.ID+".jpg")
	if err := os.WriteFile(imagePath, snapshot, 0o644); err != nil {
		return fmt.Errorf("failed to write archived snapshot: %w", err)
	}

	detail := reviewDetail{
		EventID:    event.ID,
		Camera:     event.Camera,
		EventLabel: event.Label,
		Verdict:    verdict,
		Reason:     reason,
		ReviewedAt: time.Now(),
	}
	if result != nil {
		detail.Detections = result.Detections
		detail.ModelName = result.ModelName
	}

	encoded, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode review detail: %w", err)
	}

	detailPath := filepath.Join(s.baseDir, "debug", event.ID+".json")
	if err := os.WriteFile(detailPath, encoded, 0o644); err != nil {
		return fmt.Errorf("failed to write review detail: %w", err)
	}

	return nil
}
