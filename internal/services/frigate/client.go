package frigate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

// Client talks to the Frigate REST API: event listing, snapshot fetch and
// the false-positive review submission.
type Client struct {
	baseURL   string
	apiKey    string
	pageLimit int
	labels    []string
	http      *http.Client
}

// NewClient creates a Frigate API client from config
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.FrigateURL, "/"),
		apiKey:    cfg.FrigateAPIKey,
		pageLimit: cfg.PageLimit,
		labels:    cfg.EventLabels,
		http: &http.Client{
			Timeout: cfg.FrigateTimeout,
		},
	}
}

// apiEvent mirrors the Frigate event JSON shape
type apiEvent struct {
	ID          string    `json:"id"`
	Camera      string    `json:"camera"`
	Label       string    `json:"label"`
	TopScore    float32   `json:"top_score"`
	Box         []float32 `json:"box"`
	HasSnapshot bool      `json:"has_snapshot"`
	StartTime   float64   `json:"start_time"`
	EndTime     *float64  `json:"end_time"`
}

// ListEvents returns all ended events with snapshots since the given time,
// walking the paginated listing with an `after` cursor until a short page.
func (c *Client) ListEvents(ctx context.Context, since time.Time) ([]models.Event, error) {
	var out []models.Event
	cursor := float64(since.Unix())

	for {
		page, err := c.listPage(ctx, cursor)
		if err != nil {
			return out, err
		}

		for _, ae := range page {
			if ae.StartTime > cursor {
				cursor = ae.StartTime
			}
			// In-progress events have no final snapshot yet; skip until ended
			if ae.EndTime == nil || !ae.HasSnapshot || ae.ID == "" {
				continue
			}
			out = append(out, c.toModel(ae))
		}

		if len(page) < c.pageLimit {
			return out, nil
		}
	}
}

func (c *Client) listPage(ctx context.Context, after float64) ([]apiEvent, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatFloat(after, 'f', -1, 64))
	q.Set("limit", strconv.Itoa(c.pageLimit))
	q.Set("has_snapshot", "1")
	if len(c.labels) > 0 {
		q.Set("labels", strings.Join(c.labels, ","))
	}

	endpoint := fmt.Sprintf("%s/api/events?%s", c.baseURL, q.Encode())

	body, err := c.get(ctx, endpoint, "list events")
	if err != nil {
		return nil, err
	}

	var page []apiEvent
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, models.Transient("list events", fmt.Errorf("decode response: %w", err))
	}

	return page, nil
}

func (c *Client) toModel(ae apiEvent) models.Event {
	sec, frac := int64(ae.StartTime), ae.StartTime-float64(int64(ae.StartTime))
	return models.Event{
		ID:          ae.ID,
		Camera:      ae.Camera,
		Label:       ae.Label,
		Score:       ae.TopScore,
		Box:         ae.Box,
		HasSnapshot: ae.HasSnapshot,
		StartTime:   time.Unix(sec, int64(frac*float64(time.Second))),
		SnapshotRef: fmt.Sprintf("%s/api/events/%s/snapshot.jpg", c.baseURL, ae.ID),
	}
}

// FetchSnapshot retrieves the event's representative image bytes. Returns
// models.ErrNotFound once the snapshot has expired on the platform.
func (c *Client) FetchSnapshot(ctx context.Context, event models.Event) ([]byte, error) {
	ref := event.SnapshotRef
	if ref == "" {
		ref = fmt.Sprintf("%s/api/events/%s/snapshot.jpg", c.baseURL, event.ID)
	}

	return c.get(ctx, ref, "fetch snapshot")
}

// MarkFalsePositive submits the false-positive review for an event.
// Safe to call more than once for the same id; the platform treats the
// submission idempotently.
func (c *Client) MarkFalsePositive(ctx context.Context, eventID string) error {
	endpoint := fmt.Sprintf("%s/api/events/%s/false_positive", c.baseURL, url.PathEscape(eventID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build mark request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Transient("mark false positive", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if err := c.statusError("mark false positive", resp.StatusCode); err != nil {
		return err
	}

	log.Info().Str("event_id", eventID).Msg("Event marked as false positive")
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, op string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.Transient(op, err)
	}
	defer resp.Body.Close()

	if err := c.statusError(op, resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.Transient(op, err)
	}

	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// statusError maps HTTP status codes onto the pipeline error taxonomy
func (c *Client) statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", op, models.ErrAuth, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w (status %d)", op, models.ErrNotFound, status)
	case status >= 500:
		return models.Transient(op, fmt.Errorf("server returned status %d", status))
	default:
		return models.Transient(op, fmt.Errorf("unexpected status %d", status))
	}
}
