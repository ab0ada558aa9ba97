package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frigate-reviewer-go/internal/models"
)

func TestDecide_ConfirmedWhenLabelMatchesAboveThreshold(t *testing.T) {
	engine := NewEngine(0.5, nil)

	result := &models.DetectionResult{
		Detections: []models.Detection{
			{Label: "person", Confidence: 0.91},
			{Label: "dog", Confidence: 0.88},
		},
	}

	outcome := engine.Decide("person", result)

	assert.Equal(t, models.VerdictConfirmed, outcome.Verdict)
	require.NotNil(t, outcome.Match)
	assert.Equal(t, "person", outcome.Match.Label)
	assert.InDelta(t, 0.91, outcome.Match.Confidence, 0.001)
}

func TestDecide_FalsePositiveWhenLabelAbsent(t *testing.T) {
	engine := NewEngine(0.5, nil)

	result := &models.DetectionResult{
		Detections: []models.Detection{
			{Label: "dog", Confidence: 0.95},
			{Label: "chair", Confidence: 0.80},
		},
	}

	outcome := engine.Decide("person", result)

	assert.Equal(t, models.VerdictFalsePositive, outcome.Verdict)
	assert.Nil(t, outcome.Match)
}

func TestDecide_FalsePositiveWhenNothingDetected(t *testing.T) {
	engine := NewEngine(0.5, nil)

	outcome := engine.Decide("person", &models.DetectionResult{Detections: []models.Detection{}})

	assert.Equal(t, models.VerdictFalsePositive, outcome.Verdict)
}

func TestDecide_InconclusiveWhenDetectorDidNotRun(t *testing.T) {
	engine := NewEngine(0.5, nil)

	outcome := engine.Decide("person", nil)

	assert.Equal(t, models.VerdictInconclusive, outcome.Verdict)
}

func TestDecide_ThresholdBoundary(t *testing.T) {
	engine := NewEngine(0.5, nil)

	// Exactly at threshold counts as corroboration
	at := engine.Decide("person", &models.DetectionResult{
		Detections: []models.Detection{{Label: "person", Confidence: 0.5}},
	})
	assert.Equal(t, models.VerdictConfirmed, at.Verdict)

	// Just below does not
	below := engine.Decide("person", &models.DetectionResult{
		Detections: []models.Detection{{Label: "person", Confidence: 0.499}},
	})
	assert.Equal(t, models.VerdictFalsePositive, below.Verdict)
}

func TestDecide_LabelEquivalence(t *testing.T) {
	engine := NewEngine(0.5, map[string]string{
		"pedestrian": "person",
		"vehicle":    "car",
	})

	outcome := engine.Decide("person", &models.DetectionResult{
		Detections: []models.Detection{{Label: "pedestrian", Confidence: 0.72}},
	})

	assert.Equal(t, models.VerdictConfirmed, outcome.Verdict)
	require.NotNil(t, outcome.Match)
	assert.Equal(t, "pedestrian", outcome.Match.Label)
}

func TestDecide_LabelMatchingIsCaseInsensitive(t *testing.T) {
	engine := NewEngine(0.5, nil)

	outcome := engine.Decide("Person", &models.DetectionResult{
		Detections: []models.Detection{{Label: "PERSON", Confidence: 0.8}},
	})

	assert.Equal(t, models.VerdictConfirmed, outcome.Verdict)
}

func TestDecide_PicksHighestConfidenceMatch(t *testing.T) {
	engine := NewEngine(0.5, nil)

	outcome := engine.Decide("car", &models.DetectionResult{
		Detections: []models.Detection{
			{Label: "car", Confidence: 0.61},
			{Label: "car", Confidence: 0.93},
			{Label: "car", Confidence: 0.77},
		},
	})

	assert.Equal(t, models.VerdictConfirmed, outcome.Verdict)
	require.NotNil(t, outcome.Match)
	assert.InDelta(t, 0.93, outcome.Match.Confidence, 0.001)
}

func TestDecide_Deterministic(t *testing.T) {
	engine := NewEngine(0.5, map[string]string{"pedestrian": "person"})

	result := &models.DetectionResult{
		Detections: []models.Detection{
			{Label: "pedestrian", Confidence: 0.64},
			{Label: "dog", Confidence: 0.92},
		},
	}

	first := engine.Decide("person", result)
	for i := 0; i < 10; i++ {
		again := engine.Decide("person", result)
		assert.Equal(t, first.Verdict, again.Verdict)
		assert.Equal(t, first.Reason, again.Reason)
	}
}
