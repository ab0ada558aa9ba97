// Package decision holds the pure verdict function. No I/O, no clock, no
// randomness: identical inputs always produce the identical outcome.
package decision

import (
	"fmt"
	"strings"

	"frigate-reviewer-go/internal/models"
)

// Engine maps an event's original label and the detector's output to a
// verdict, using a confidence threshold and a label-equivalence table that
// bridges the detector's vocabulary and the platform's.
type Engine struct {
	threshold   float32
	equivalence map[string]string // detector label -> platform label, lowercased
}

// NewEngine creates a decision engine with the given policy
func NewEngine(threshold float32, equivalence map[string]string) *Engine {
	norm := make(map[string]string, len(equivalence))
	for alias, canonical := range equivalence {
		norm[strings.ToLower(alias)] = strings.ToLower(canonical)
	}
	return &Engine{
		threshold:   threshold,
		equivalence: norm,
	}
}

// Outcome is the engine's decision for one event
type Outcome struct {
	Verdict models.Verdict
	// Match is the single highest-confidence detection corroborating the
	// event label, set only when the verdict is CONFIRMED.
	Match  *models.Detection
	Reason string
}

// Decide returns the verdict for an event label given the detector output.
// A nil result means the detector failed to run; absence of data is never
// judged a false positive, so that is always INCONCLUSIVE.
func (e *Engine) Decide(eventLabel string, result *models.DetectionResult) Outcome {
	if result == nil {
		return Outcome{
			Verdict: models.VerdictInconclusive,
			Reason:  "detector did not run",
		}
	}

	want := strings.ToLower(eventLabel)

	var best *models.Detection
	for i := range result.Detections {
		det := &result.Detections[i]
		if e.normalize(det.Label) != want {
			continue
		}
		if det.Confidence < e.threshold {
			continue
		}
		if best == nil || det.Confidence > best.Confidence {
			best = det
		}
	}

	if best != nil {
		return Outcome{
			Verdict: models.VerdictConfirmed,
			Match:   best,
			Reason: fmt.Sprintf("%s corroborated as %q with confidence %.3f (threshold %.3f)",
				eventLabel, best.Label, best.Confidence, e.threshold),
		}
	}

	return Outcome{
		Verdict: models.VerdictFalsePositive,
		Reason: fmt.Sprintf("no %s detected above threshold %.3f in %d detections",
			eventLabel, e.threshold, len(result.Detections)),
	}
}

// normalize maps a detector label into the platform vocabulary
func (e *Engine) normalize(label string) string {
	lower := strings.ToLower(label)
	if canonical, ok := e.equivalence[lower]; ok {
		return canonical
	}
	return lower
}
