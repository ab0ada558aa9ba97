package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

func TestSaveReview(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(&config.Config{ArchiveDir: dir})
	require.NoError(t, err)

	event := models.Event{ID: "evt-1", Camera: "front_door", Label: "person"}
	snapshot := []byte{0xFF, 0xD8, 0x01}
	result := &models.DetectionResult{
		Detections: []models.Detection{{Label: "dog", Confidence: 0.9}},
		ModelName:  "yolo-test",
	}

	err = svc.SaveReview(event, snapshot, models.VerdictFalsePositive, result, "no person detected")
	require.NoError(t, err)

	// False positives land under false/
	saved, err := os.ReadFile(filepath.Join(dir, "false", "evt-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, snapshot, saved)

	raw, err := os.ReadFile(filepath.Join(dir, "debug", "evt-1.json"))
	require.NoError(t, err)

	var detail map[string]any
	require.NoError(t, json.Unmarshal(raw, &detail))
	assert.Equal(t, "evt-1", detail["event_id"])
	assert.Equal(t, string(models.VerdictFalsePositive), detail["verdict"])
	assert.Equal(t, "no person detected", detail["reason"])
}

func TestSaveReview_ConfirmedGoesToTrue(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(&config.Config{ArchiveDir: dir})
	require.NoError(t, err)

	event := models.Event{ID: "evt-2", Camera: "back", Label: "car"}
	err = svc.SaveReview(event, []byte{0xFF, 0xD8}, models.VerdictConfirmed, nil, "corroborated")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "true", "evt-2.jpg"))
	assert.NoError(t, err)
}
