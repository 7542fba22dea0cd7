// Package proctor publishes session activity for live proctoring: violations are queued
// for persistence and every event is fanned out on the schedule's monitor channel.
package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// ViolationRecord is the queued form of a violation, drained by the violation worker.
type ViolationRecord struct {
	ScheduleID string `json:"schedule_id"`
	ExamineeID int    `json:"examinee_id"`
	Type       string `json:"type"`
	Detail     string `json:"detail"`
	Count      int    `json:"count"`
	OccurredAt int64  `json:"occurred_at"`
}

// FeedEvent is one message on the monitor channel.
type FeedEvent struct {
	Type       string    `json:"type"`
	ExamineeID int       `json:"examinee_id"`
	Violation  string    `json:"violation,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Count      int       `json:"count,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher writes to Redis.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{
		rdb: rdb,
		log: log.With().Str("component", "proctor_publisher").Logger(),
	}
}

// PublishViolation queues v for persistence and announces it on the monitor channel.
func (p *Publisher) PublishViolation(ctx context.Context, scheduleID uuid.UUID, examineeID int, v model.Violation, count int) error {
	record, err := json.Marshal(ViolationRecord{
		ScheduleID: scheduleID.String(),
		ExamineeID: examineeID,
		Type:       string(v.Type),
		Detail:     v.Detail,
		Count:      count,
		OccurredAt: v.At.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	event, err := json.Marshal(FeedEvent{
		Type:       "violation",
		ExamineeID: examineeID,
		Violation:  string(v.Type),
		Detail:     v.Detail,
		Count:      count,
		At:         v.At,
	})
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, record)
	pipe.Publish(ctx, config.ChannelKey.ExamMonitorChannel(scheduleID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish violation: %w", err)
	}
	return nil
}

// PublishLifecycle announces a session event (opened, resumed, submitted, kicked).
func (p *Publisher) PublishLifecycle(ctx context.Context, scheduleID uuid.UUID, examineeID int, event string) error {
	payload, err := json.Marshal(FeedEvent{Type: event, ExamineeID: examineeID, At: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := p.rdb.Publish(ctx, config.ChannelKey.ExamMonitorChannel(scheduleID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	p.log.Debug().Str("event", event).Int("examinee_id", examineeID).Msg("Lifecycle published")
	return nil
}
