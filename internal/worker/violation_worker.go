package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/proctor"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationStore persists violation records.
type ViolationStore interface {
	CopyViolations(ctx context.Context, batch []proctor.ViolationRecord) error
	InsertViolation(ctx context.Context, v proctor.ViolationRecord) error
}

// ViolationWorker drains the violation queue into the store in batches.
type ViolationWorker struct {
	store ViolationStore
	rdb   *redis.Client
	log   zerolog.Logger

	batchTimeout time.Duration
	requeuePause time.Duration
}

func NewViolationWorker(store ViolationStore, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:        store,
		rdb:          rdb,
		log:          log.With().Str("component", "violation_worker").Logger(),
		batchTimeout: BatchTimeout,
		requeuePause: 2 * time.Second,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]proctor.ViolationRecord, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= w.batchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. BLPop blocks up to PollTimeout, returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			w.pause(ctx, 3*time.Second)
			continue
		}

		// 4. Decode
		if len(result) < 2 {
			continue
		}
		var record proctor.ViolationRecord
		if err := json.Unmarshal([]byte(result[1]), &record); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, record)
		if len(buffer) == 1 {
			lastFlushTime = time.Now()
		}
	}
}

// flushSafe attempts bulk copy, then row-by-row insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []proctor.ViolationRecord) {
	if err := w.store.CopyViolations(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk copy failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []proctor.ViolationRecord) {
	requeueList := make([]proctor.ViolationRecord, 0)

	for _, v := range batch {
		err := w.store.InsertViolation(ctx, v)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrMalformedData):
			w.log.Error().Err(err).Str("schedule_id", v.ScheduleID).Int("examinee_id", v.ExamineeID).Msg("Dropping invalid violation")
		default:
			w.log.Error().Err(err).Int("examinee_id", v.ExamineeID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, v)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []proctor.ViolationRecord) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	pipe := w.rdb.Pipeline()
	for _, v := range items {
		data, _ := json.Marshal(v)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue violations to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations back to Redis")
	// Avoid thrashing while the database is down.
	w.pause(ctx, w.requeuePause)
}

func (w *ViolationWorker) shutdown(buffer []proctor.ViolationRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func (w *ViolationWorker) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
