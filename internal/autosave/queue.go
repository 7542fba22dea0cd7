package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/tidwall/gjson"
)

// ErrReplayInProgress is returned by Replay while another replay of the same queue runs.
var ErrReplayInProgress = errors.New("offline queue replay already running")

// OfflineQueue is the device-wide durable record of batches that failed to reach the
// remote store. The whole queue lives under one storage key and every mutation is a
// read-modify-write of that object behind gate, so one OfflineQueue must be shared by
// all sessions of the process.
type OfflineQueue struct {
	storage localstore.Storage
	key     string
	log     zerolog.Logger

	gate     sync.Mutex
	replayMu sync.Mutex
}

// NewOfflineQueue creates the queue over storage.
func NewOfflineQueue(storage localstore.Storage, log zerolog.Logger) *OfflineQueue {
	return &OfflineQueue{
		storage: storage,
		key:     config.StorageKey.OfflineQueueKey(),
		log:     log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue appends entry, assigning an ID when missing.
func (q *OfflineQueue) Enqueue(entry model.OfflineQueueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	q.gate.Lock()
	defer q.gate.Unlock()

	entries := q.load()
	entries = append(entries, entry)
	if err := q.save(entries); err != nil {
		return err
	}

	q.log.Info().
		Str("schedule_id", entry.ScheduleID.String()).
		Int("examinee_id", entry.ExamineeID).
		Int("changes", len(entry.Changes)).
		Bool("attempt_patch", entry.Attempt != nil).
		Msg("Batch queued offline")
	return nil
}

// Entries returns a copy of every queued entry in queue order.
func (q *OfflineQueue) Entries() []model.OfflineQueueEntry {
	q.gate.Lock()
	defer q.gate.Unlock()
	return q.load()
}

// Len is the number of queued entries.
func (q *OfflineQueue) Len() int {
	return len(q.Entries())
}

// CountFor is the number of entries queued for one session.
func (q *OfflineQueue) CountFor(scheduleID uuid.UUID, examineeID int) int {
	n := 0
	for _, e := range q.Entries() {
		if e.ScheduleID == scheduleID && e.ExamineeID == examineeID {
			n++
		}
	}
	return n
}

// TerminalStatus reports the latest terminal attempt status queued for one session, that
// is a submit or kick recorded on this device that the remote store has not seen yet.
func (q *OfflineQueue) TerminalStatus(scheduleID uuid.UUID, examineeID int) (model.AttemptStatus, bool) {
	var (
		status model.AttemptStatus
		found  bool
	)
	for _, e := range q.Entries() {
		if e.ScheduleID != scheduleID || e.ExamineeID != examineeID {
			continue
		}
		if e.Attempt != nil && e.Attempt.Status != nil && e.Attempt.Status.Terminal() {
			status, found = *e.Attempt.Status, true
		}
	}
	return status, found
}

// Remove deletes the entry with the given ID, if still present.
func (q *OfflineQueue) Remove(id uuid.UUID) error {
	q.gate.Lock()
	defer q.gate.Unlock()

	entries := q.load()
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	return q.save(kept)
}

// Clear drops every queued entry.
func (q *OfflineQueue) Clear() error {
	q.gate.Lock()
	defer q.gate.Unlock()
	return q.storage.Remove(q.key)
}

// Replay pushes every queued entry, of any session, through store. An entry is removed
// only once it was accepted (or rejected as malformed); failed entries stay for the next
// opportunity. A call made while another replay runs returns ErrReplayInProgress.
func (q *OfflineQueue) Replay(ctx context.Context, store RemoteStore) (int, error) {
	if !q.replayMu.TryLock() {
		return 0, ErrReplayInProgress
	}
	defer q.replayMu.Unlock()

	entries := q.Entries()
	if len(entries) == 0 {
		return 0, nil
	}

	replayed := 0
	var errs []error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		err := push(ctx, store, entry.Changes, entry.Attempt)
		switch {
		case err == nil:
			replayed++
		case errors.Is(err, model.ErrMalformedData):
			q.log.Error().Err(err).
				Str("entry_id", entry.ID.String()).
				Msg("Dropping malformed queued batch")
		default:
			errs = append(errs, fmt.Errorf("replay %s: %w", entry.ID, err))
			continue
		}

		if err := q.Remove(entry.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", entry.ID, err))
		}
	}

	if replayed > 0 {
		q.log.Info().Int("count", replayed).Msg("Replayed offline queue")
	}
	return replayed, errors.Join(errs...)
}

func (q *OfflineQueue) load() []model.OfflineQueueEntry {
	raw, ok, err := q.storage.Get(q.key)
	if err != nil {
		q.log.Error().Err(err).Msg("Read offline queue failed")
		return nil
	}
	if !ok {
		return nil
	}

	var entries []model.OfflineQueueEntry
	if !gjson.ValidBytes(raw) || json.Unmarshal(raw, &entries) != nil {
		q.log.Warn().Int("bytes", len(raw)).Msg("Malformed offline queue in local storage, treating as empty")
		return nil
	}
	return entries
}

func (q *OfflineQueue) save(entries []model.OfflineQueueEntry) error {
	if len(entries) == 0 {
		return q.storage.Remove(q.key)
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal offline queue: %w", err)
	}
	if err := q.storage.Set(q.key, raw); err != nil {
		return fmt.Errorf("write offline queue: %w", err)
	}
	return nil
}
