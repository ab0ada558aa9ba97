package models

import (
	"time"
)

// Verdict is the pipeline's final judgment on an event
type Verdict string

const (
	VerdictConfirmed     Verdict = "CONFIRMED"
	VerdictFalsePositive Verdict = "FALSE_POSITIVE"
	VerdictInconclusive  Verdict = "INCONCLUSIVE"
)

// RecordStatus represents the lifecycle state of a processed record
type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusInProgress RecordStatus = "in_progress"
	StatusDone       RecordStatus = "done"
	StatusFailed     RecordStatus = "failed"
)

// IsTerminal reports whether a record in this status is never reprocessed
func (s RecordStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Event represents one alert reported by the surveillance platform
type Event struct {
	ID          string    `json:"id"`
	Camera      string    `json:"camera"`
	Label       string    `json:"label"`
	Score       float32   `json:"top_score"`
	Box         []float32 `json:"box,omitempty"`
	HasSnapshot bool      `json:"has_snapshot"`
	StartTime   time.Time `json:"start_time"`
	// SnapshotRef is the opaque handle used to retrieve the representative
	// image; filled in by the platform client, never parsed elsewhere.
	SnapshotRef string `json:"snapshot_ref,omitempty"`
}

// Detection is a single object found by the independent detector
type Detection struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box,omitempty"`
}

// DetectionResult is the detector's output for one image. An empty
// Detections slice means the model ran and found nothing.
type DetectionResult struct {
	Detections    []Detection   `json:"detections"`
	ModelName     string        `json:"model_name,omitempty"`
	InferenceTime time.Duration `json:"inference_time,omitempty"`
}

// ProcessedRecord is the durable dedup/audit entry for one event id
type ProcessedRecord struct {
	EventID       string       `json:"event_id"`
	Camera        string       `json:"camera"`
	Label         string       `json:"label"`
	Verdict       Verdict      `json:"verdict"`
	Status        RecordStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	CachedVerdict Verdict      `json:"cached_verdict,omitempty"`
	LastError     string       `json:"last_error,omitempty"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// VerdictPayload is the notification published after an event reaches a verdict
type VerdictPayload struct {
	EventID       string      `json:"event_id"`
	Camera        string      `json:"camera"`
	EventLabel    string      `json:"event_label"`
	Verdict       Verdict     `json:"verdict"`
	Attempts      int         `json:"attempts"`
	Detections    []Detection `json:"detections,omitempty"`
	ModelName     string      `json:"model_name,omitempty"`
	MarkSubmitted bool        `json:"mark_submitted"`
	Timestamp     time.Time   `json:"timestamp"`
}

// PipelineStats summarizes the dedup store for the operator API
type PipelineStats struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	InProgress     int64 `json:"in_progress"`
	Done           int64 `json:"done"`
	Failed         int64 `json:"failed"`
	FalsePositives int64 `json:"false_positives"`
	Confirmed      int64 `json:"confirmed"`
}

// MessagePublisher interface for publishing verdict notifications
type MessagePublisher interface {
	Publish(subject string, data interface{}) error
}
