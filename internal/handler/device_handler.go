package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
	"github.com/stemsi/exstem-kiosk/internal/response"
)

const replayTimeout = 30 * time.Second

// QueueEntrySummary describes one queued batch without its answer values.
type QueueEntrySummary struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"schedule_id"`
	ExamineeID int       `json:"examinee_id"`
	Changes    int       `json:"changes"`
	HasAttempt bool      `json:"has_attempt"`
	QueuedAt   time.Time `json:"queued_at"`
}

// DeviceHandler exposes device health and the offline queue.
type DeviceHandler struct {
	queue   *autosave.OfflineQueue
	store   autosave.RemoteStore
	network netstatus.Signal
	log     zerolog.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(queue *autosave.OfflineQueue, store autosave.RemoteStore, network netstatus.Signal, log zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		queue:   queue,
		store:   store,
		network: network,
		log:     log.With().Str("component", "device_handler").Logger(),
	}
}

// Health godoc
// GET /health
func (h *DeviceHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status": "ok",
		"online": h.network.Online(),
		"queued": h.queue.Len(),
	})
}

// ListQueue godoc
// GET /api/v1/device/queue
func (h *DeviceHandler) ListQueue(c *gin.Context) {
	entries := h.queue.Entries()
	out := make([]QueueEntrySummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, QueueEntrySummary{
			ID:         e.ID.String(),
			ScheduleID: e.ScheduleID.String(),
			ExamineeID: e.ExamineeID,
			Changes:    len(e.Changes),
			HasAttempt: e.Attempt != nil,
			QueuedAt:   e.QueuedAt,
		})
	}
	response.Success(c, http.StatusOK, out)
}

// ReplayQueue godoc
// POST /api/v1/device/queue/replay
func (h *DeviceHandler) ReplayQueue(c *gin.Context) {
	if !h.network.Online() {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrOffline)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), replayTimeout)
	defer cancel()

	replayed, err := h.queue.Replay(ctx, h.store)
	if errors.Is(err, autosave.ErrReplayInProgress) {
		response.Fail(c, http.StatusConflict, response.ErrReplayInProgress)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Int("replayed", replayed).Msg("Manual queue replay incomplete")
	}
	response.Success(c, http.StatusOK, gin.H{
		"replayed":  replayed,
		"remaining": h.queue.Len(),
	})
}
