package detection

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frigate-reviewer-go/internal/config"
	"frigate-reviewer-go/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	httpmock.Activate()
	t.Cleanup(httpmock.DeactivateAndReset)

	// Health probe during construction hits the mock root; keep it happy
	httpmock.RegisterResponder("GET", "http://detector.local:32168/",
		httpmock.NewStringResponder(http.StatusOK, "OK"))

	svc, err := NewService(&config.Config{
		DetectorURL:     "http://detector.local:32168",
		DetectorTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	return svc
}

const detectSuccessBody = `{
	"success": true,
	"inferenceMs": 42,
	"moduleName": "yolo-test",
	"predictions": [
		{"label": "person", "confidence": 0.91, "x_min": 10, "y_min": 20, "x_max": 110, "y_max": 220},
		{"label": "dog", "confidence": 0.55, "x_min": 5, "y_min": 5, "x_max": 50, "y_max": 60}
	]
}`

func TestDetect_Success(t *testing.T) {
	svc := newTestService(t)

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		httpmock.NewStringResponder(http.StatusOK, detectSuccessBody))

	result, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.NoError(t, err)

	require.Len(t, result.Detections, 2)
	assert.Equal(t, "person", result.Detections[0].Label)
	assert.InDelta(t, 0.91, result.Detections[0].Confidence, 0.001)
	assert.Equal(t, []float32{10, 20, 110, 220}, result.Detections[0].Box)
	assert.Equal(t, "yolo-test", result.ModelName)
}

func TestDetect_EmptyResultIsNotAnError(t *testing.T) {
	svc := newTestService(t)

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		httpmock.NewStringResponder(http.StatusOK, `{"success": true, "predictions": []}`))

	result, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.NoError(t, err)
	assert.Empty(t, result.Detections)
}

func TestDetect_ReportedFailureIsInferenceError(t *testing.T) {
	svc := newTestService(t)

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		httpmock.NewStringResponder(http.StatusOK, `{"success": false, "error": "model not loaded"}`))

	_, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.Error(t, err)
	assert.True(t, models.IsInference(err))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestDetect_ServerErrorIsTransient(t *testing.T) {
	svc := newTestService(t)

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "overloaded"))

	_, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
}

func TestDetect_EmptyImageRejected(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Detect(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, models.IsInference(err))
}

func TestDetect_BackoffAfterFailure(t *testing.T) {
	svc := newTestService(t)

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "overloaded"))

	_, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.Error(t, err)

	// Immediately after a failure the client refuses to hammer the detector
	_, err = svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
	require.Error(t, err)
	assert.True(t, models.IsInference(err))
	assert.Contains(t, err.Error(), "backoff")
}

func TestDetect_SerializesConcurrentCalls(t *testing.T) {
	svc := newTestService(t)

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	httpmock.RegisterResponder("POST", "http://detector.local:32168/v1/vision/detection",
		func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()

			return httpmock.NewStringResponse(http.StatusOK, `{"success": true, "predictions": []}`), nil
		})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Detect(context.Background(), []byte{0xFF, 0xD8, 0x01})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// The single-slot gate must never let two inference calls overlap
	assert.Equal(t, 1, maxInFlight)
}
