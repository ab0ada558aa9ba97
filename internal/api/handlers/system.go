package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/services/dedup"
	"frigate-reviewer-go/internal/services/review"
)

// SystemHandler handles system-related endpoints
type SystemHandler struct {
	WorkerID string
	store    *dedup.Store
	pipeline *review.Service
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(workerID string, store *dedup.Store, pipeline *review.Service) *SystemHandler {
	return &SystemHandler{
		WorkerID: workerID,
		store:    store,
		pipeline: pipeline,
	}
}

// @Summary Get pipeline stats
// @Description Get review pipeline counters and runtime metrics
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/stats [get]
func (h *SystemHandler) GetStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read pipeline stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to read stats",
		})
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"pipeline": stats,
		"status":   h.pipeline.Status(),
		"runtime": gin.H{
			"worker_id":  h.WorkerID,
			"memory_mb":  m.Alloc / 1024 / 1024,
			"cpu_cores":  runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"go_version": runtime.Version(),
		},
		"timestamp": time.Now().Unix(),
	})
}

// @Summary Get debug info
// @Description Get debug information for troubleshooting
// @Tags system
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /system/debug [get]
func (h *SystemHandler) GetDebugInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"debug": gin.H{
			"worker_id":  h.WorkerID,
			"endpoints":  []string{"/health", "/records", "/system"},
			"components": []string{"discovery", "review_workers", "detector_client", "dedup_store"},
		},
		"timestamp": time.Now().Unix(),
	})
}
