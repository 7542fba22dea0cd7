package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/middleware"
	"github.com/stemsi/exstem-kiosk/internal/proctor"
	"github.com/stemsi/exstem-kiosk/internal/response"
	"github.com/stemsi/exstem-kiosk/internal/session"
)

const (
	keepAliveInterval = 30 * time.Second
	queryTimeout      = 5 * time.Second
)

// Kicker ends attempts on behalf of a proctor.
type Kicker interface {
	Kick(ctx context.Context, scheduleID uuid.UUID, examineeID int) (bool, error)
}

// ViolationLister reads the persisted violation log.
type ViolationLister interface {
	ListViolations(ctx context.Context, scheduleID uuid.UUID, examineeID int) ([]proctor.ViolationRecord, error)
}

// ProctorHandler serves the live monitor feed and proctor actions.
type ProctorHandler struct {
	rdb        *redis.Client
	attempts   Kicker
	violations ViolationLister
	publisher  session.Publisher
	log        zerolog.Logger

	keepAlive time.Duration
}

func NewProctorHandler(
	rdb *redis.Client,
	attempts Kicker,
	violations ViolationLister,
	publisher session.Publisher,
	log zerolog.Logger,
) *ProctorHandler {
	return &ProctorHandler{
		rdb:        rdb,
		attempts:   attempts,
		violations: violations,
		publisher:  publisher,
		log:        log.With().Str("component", "proctor_handler").Logger(),
		keepAlive:  keepAliveInterval,
	}
}

// MonitorSSE godoc
// GET /api/v1/proctor/schedules/:schedule_id/monitor
// Relays the schedule's monitor channel as server-sent events.
func (h *ProctorHandler) MonitorSSE(c *gin.Context) {
	scheduleID, err := uuid.Parse(c.Param("schedule_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	reqCtx := c.Request.Context()

	// 1. Subscribe before sending headers so no event is missed.
	pubsub := h.rdb.Subscribe(reqCtx, config.ChannelKey.ExamMonitorChannel(scheduleID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Msg("Subscribe to monitor channel failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	// 2. SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(h.keepAlive)
	defer keepAliveTicker.Stop()

	proctorID := 0
	if claims := middleware.GetClaims(c); claims != nil {
		proctorID = claims.UserID
	}
	h.log.Info().Str("schedule_id", scheduleID.String()).Int("proctor_id", proctorID).Msg("Proctor attached to live monitor")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("schedule_id", scheduleID.String()).Msg("Proctor detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSE(c, []byte(msg.Payload))

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

// Kick godoc
// POST /api/v1/proctor/schedules/:schedule_id/examinees/:examinee_id/kick
func (h *ProctorHandler) Kick(c *gin.Context) {
	scheduleID, examineeID, ok := parseTarget(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	kicked, err := h.attempts.Kick(ctx, scheduleID, examineeID)
	if err != nil {
		h.log.Error().Err(err).Msg("Kick failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if !kicked {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	if err := h.publisher.PublishLifecycle(ctx, scheduleID, examineeID, session.EventKicked); err != nil {
		h.log.Warn().Err(err).Msg("Publish kick failed")
	}
	h.log.Info().
		Str("schedule_id", scheduleID.String()).
		Int("examinee_id", examineeID).
		Msg("Attempt kicked by proctor")
	response.Success(c, http.StatusOK, gin.H{"kicked": true})
}

// ListViolations godoc
// GET /api/v1/proctor/schedules/:schedule_id/examinees/:examinee_id/violations
func (h *ProctorHandler) ListViolations(c *gin.Context) {
	scheduleID, examineeID, ok := parseTarget(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	records, err := h.violations.ListViolations(ctx, scheduleID, examineeID)
	if err != nil {
		h.log.Error().Err(err).Msg("List violations failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if records == nil {
		records = []proctor.ViolationRecord{}
	}
	response.Success(c, http.StatusOK, records)
}

func parseTarget(c *gin.Context) (uuid.UUID, int, bool) {
	scheduleID, err := uuid.Parse(c.Param("schedule_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	examineeID, err := strconv.Atoi(c.Param("examinee_id"))
	if err != nil || examineeID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, 0, false
	}
	return scheduleID, examineeID, true
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
