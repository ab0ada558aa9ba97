package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"frigate-reviewer-go/internal/models"
	"frigate-reviewer-go/internal/services/dedup"
)

// RecordsHandler exposes the dedup store's audit trail to operators
type RecordsHandler struct {
	store *dedup.Store
}

func NewRecordsHandler(store *dedup.Store) *RecordsHandler {
	return &RecordsHandler{store: store}
}

// @Summary List processed records
// @Description List review records, newest first, optionally filtered
// @Tags records
// @Accept json
// @Produce json
// @Param status query string false "Record status (pending, in_progress, done, failed)"
// @Param verdict query string false "Verdict (CONFIRMED, FALSE_POSITIVE, INCONCLUSIVE)"
// @Param camera query string false "Camera name"
// @Param limit query int false "Maximum records to return" default(100)
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /records [get]
func (h *RecordsHandler) ListRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := h.store.ListRecords(c.Request.Context(), dedup.RecordFilters{
		Status:  models.RecordStatus(c.Query("status")),
		Verdict: models.Verdict(c.Query("verdict")),
		Camera:  c.Query("camera"),
		Limit:   limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list records")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to list records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(records),
		"records": records,
	})
}

// @Summary Get a record
// @Description Get the review record for one event id
// @Tags records
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /records/{id} [get]
func (h *RecordsHandler) GetRecord(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("event_id", c.Param("id")).Msg("Failed to get record")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to get record",
		})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "record not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"record":  record,
	})
}

// @Summary List failed records
// @Description List events frozen after exhausting their retry budget
// @Tags records
// @Accept json
// @Produce json
// @Param limit query int false "Maximum records to return" default(100)
// @Success 200 {object} map[string]interface{}
// @Router /records/failed [get]
func (h *RecordsHandler) ListFailed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	records, err := h.store.ListRecords(c.Request.Context(), dedup.RecordFilters{
		Status: models.StatusFailed,
		Limit:  limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list failed records")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to list records",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(records),
		"records": records,
	})
}

// @Summary Requeue a failed record
// @Description Reset a frozen failed event so the pipeline reviews it again
// @Tags records
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /records/{id}/requeue [post]
func (h *RecordsHandler) Requeue(c *gin.Context) {
	eventID := c.Param("id")

	if err := h.store.Requeue(c.Request.Context(), eventID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	log.Info().Str("event_id", eventID).Msg("Failed record requeued by operator")
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"event_id": eventID,
	})
}
