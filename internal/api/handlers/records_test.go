package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frigate-reviewer-go/internal/models"
	"frigate-reviewer-go/internal/services/dedup"
)

func setupRecordsRouter(t *testing.T) (*gin.Engine, *dedup.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := dedup.Open(filepath.Join(t.TempDir(), "test.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	handler := NewRecordsHandler(store)

	router := gin.New()
	router.GET("/records", handler.ListRecords)
	router.GET("/records/failed", handler.ListFailed)
	router.GET("/records/:id", handler.GetRecord)
	router.POST("/records/:id/requeue", handler.Requeue)

	return router, store
}

func seedRecord(t *testing.T, store *dedup.Store, id string, out dedup.Outcome) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Claim(ctx, models.Event{ID: id, Camera: "front", Label: "person"})
	require.NoError(t, err)
	require.NoError(t, store.RecordOutcome(ctx, id, out))
}

func TestListRecords(t *testing.T) {
	router, store := setupRecordsRouter(t)
	seedRecord(t, store, "evt-1", dedup.Outcome{Verdict: models.VerdictFalsePositive, Terminal: true})
	seedRecord(t, store, "evt-2", dedup.Outcome{Verdict: models.VerdictConfirmed, Terminal: true})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/records?verdict=FALSE_POSITIVE", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                      `json:"success"`
		Count   int                       `json:"count"`
		Records []*models.ProcessedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "evt-1", body.Records[0].EventID)
}

func TestGetRecord(t *testing.T) {
	router, store := setupRecordsRouter(t)
	seedRecord(t, store, "evt-1", dedup.Outcome{Verdict: models.VerdictConfirmed, Terminal: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/evt-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/no-such", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequeue(t *testing.T) {
	router, store := setupRecordsRouter(t)
	seedRecord(t, store, "evt-1", dedup.Outcome{
		Verdict:  models.VerdictInconclusive,
		Terminal: true,
		Failed:   true,
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/records/evt-1/requeue", nil))
	require.Equal(t, http.StatusOK, w.Code)

	record, err := store.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, record.Status)

	// A record that is not frozen cannot be requeued
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/records/evt-1/requeue", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListFailed(t *testing.T) {
	router, store := setupRecordsRouter(t)
	seedRecord(t, store, "evt-frozen", dedup.Outcome{
		Verdict:   models.VerdictInconclusive,
		Terminal:  true,
		Failed:    true,
		LastError: "snapshot gone",
	})
	seedRecord(t, store, "evt-done", dedup.Outcome{Verdict: models.VerdictConfirmed, Terminal: true})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/records/failed", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count   int                       `json:"count"`
		Records []*models.ProcessedRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "evt-frozen", body.Records[0].EventID)
}
