package frigate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewClient(&config.Config{
		FrigateURL:     "http://frigate.local:5000",
		FrigateAPIKey:  "test-key",
		FrigateTimeout: 5 * time.Second,
		PageLimit:      2,
		EventLabels:    []string{"person", "car"},
	})
}

func eventJSON(id string, start float64, ended, hasSnapshot bool) map[string]any {
	e := map[string]any{
		"id":           id,
		"camera":       "front_door",
		"label":        "person",
		"top_score":    0.87,
		"has_snapshot": hasSnapshot,
		"start_time":   start,
	}
	if ended {
		e["end_time"] = start + 10
	}
	return e
}

func registerEventPages(t *testing.T, pages ...[]map[string]any) {
	t.Helper()

	call := 0
	httpmock.RegisterResponder("GET", `=~^http://frigate\.local:5000/api/events`,
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

			page := []map[string]any{}
			if call < len(pages) {
				page = pages[call]
			}
			call++

			body, err := json.Marshal(page)
			require.NoError(t, err)
			return httpmock.NewBytesResponse(http.StatusOK, body), nil
		})
}

func TestListEvents_SinglePage(t *testing.T) {
	client := newTestClient(t)

	registerEventPages(t, []map[string]any{
		eventJSON("evt-1", 1000, true, true),
	})

	events, err := client.ListEvents(context.Background(), time.Unix(900, 0))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "front_door", events[0].Camera)
	assert.Equal(t, "person", events[0].Label)
	assert.InDelta(t, 0.87, events[0].Score, 0.001)
	assert.Equal(t, int64(1000), events[0].StartTime.Unix())
}

func TestListEvents_WalksPaginationCursor(t *testing.T) {
	client := newTestClient(t)

	// Full first page forces a second request; short second page stops the walk
	registerEventPages(t,
		[]map[string]any{
			eventJSON("evt-1", 1000, true, true),
			eventJSON("evt-2", 1010, true, true),
		},
		[]map[string]any{
			eventJSON("evt-3", 1020, true, true),
		},
	)

	events, err := client.ListEvents(context.Background(), time.Unix(900, 0))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestListEvents_SkipsUnfinishedAndSnapshotlessEvents(t *testing.T) {
	client := newTestClient(t)

	registerEventPages(t, []map[string]any{
		eventJSON("evt-live", 1000, false, true),
		eventJSON("evt-blind", 1010, true, false),
		eventJSON("evt-ok", 1020, true, true),
	})

	events, err := client.ListEvents(context.Background(), time.Unix(900, 0))
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "evt-ok", events[0].ID)
}

func TestListEvents_AuthFailure(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", `=~^http://frigate\.local:5000/api/events`,
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"unauthorized"}`))

	_, err := client.ListEvents(context.Background(), time.Unix(0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAuth)
}

func TestListEvents_ServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", `=~^http://frigate\.local:5000/api/events`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	_, err := client.ListEvents(context.Background(), time.Unix(0, 0))
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestFetchSnapshot(t *testing.T) {
	client := newTestClient(t)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	httpmock.RegisterResponder("GET", "http://frigate.local:5000/api/events/evt-1/snapshot.jpg",
		httpmock.NewBytesResponder(http.StatusOK, jpeg))

	data, err := client.FetchSnapshot(context.Background(), models.Event{ID: "evt-1"})
	require.NoError(t, err)
	assert.Equal(t, jpeg, data)
}

func TestFetchSnapshot_GoneReturnsNotFound(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", "http://frigate.local:5000/api/events/evt-1/snapshot.jpg",
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	_, err := client.FetchSnapshot(context.Background(), models.Event{ID: "evt-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMarkFalsePositive(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("PUT", "http://frigate.local:5000/api/events/evt-1/false_positive",
		httpmock.NewStringResponder(http.StatusOK, `{"success":true}`))

	err := client.MarkFalsePositive(context.Background(), "evt-1")
	require.NoError(t, err)

	info := httpmock.GetCallCountInfo()
	assert.Equal(t, 1, info[fmt.Sprintf("PUT %s", "http://frigate.local:5000/api/events/evt-1/false_positive")])
}

func TestMarkFalsePositive_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"not_found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, models.ErrNotFound)
		}},
		{"forbidden", http.StatusForbidden, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, models.ErrAuth)
		}},
		{"server_error", http.StatusInternalServerError, func(t *testing.T, err error) {
			assert.True(t, models.IsTransient(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)

			httpmock.RegisterResponder("PUT", "http://frigate.local:5000/api/events/evt-1/false_positive",
				httpmock.NewStringResponder(tt.status, "error"))

			err := client.MarkFalsePositive(context.Background(), "evt-1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
