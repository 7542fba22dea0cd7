// Package autosave buffers answer edits locally, pushes them to the remote store with
// debounce and bounded retry, and queues what cannot be delivered for later replay.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
)

var (
	// ErrOffline is returned by a flush attempted while the network is down.
	ErrOffline = errors.New("network offline")
	errAborted = errors.New("flush aborted")
)

// RemoteStore is the subset of the attempt store the engine writes to.
type RemoteStore interface {
	UpsertAttempt(ctx context.Context, patch model.AttemptPatch) (*model.Attempt, error)
	BulkUpsertAnswers(ctx context.Context, changes []model.PendingChange) error
}

// Final is the snapshot handed over on submit: the full answer set plus the terminal
// attempt fields.
type Final struct {
	Changes []model.PendingChange
	Patch   model.AttemptPatch
}

// Options configures an Engine. Zero durations fall back to the defaults below.
type Options struct {
	ScheduleID uuid.UUID
	ExamineeID int

	Store   RemoteStore
	Local   localstore.Storage
	Queue   *OfflineQueue
	Network netstatus.Signal

	Debounce    time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	ReplayEvery time.Duration
	SaveTimeout time.Duration

	Clock    clockwork.Clock
	Log      zerolog.Logger
	OnStatus func(Status)
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.ReplayEvery <= 0 {
		o.ReplayEvery = 30 * time.Second
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
}

// Engine is the per-session sync engine.
type Engine struct {
	opts      Options
	log       zerolog.Logger
	backupKey string

	mu           sync.Mutex
	pending      map[uuid.UUID]model.PendingChange
	patch        *model.AttemptPatch
	patchVersion int64
	version      int64
	state        State
	offline      bool
	lastErr      error
	lastSavedAt  *time.Time
	debounce     clockwork.Timer
	abort        chan struct{}
	started      bool
	stopped      bool

	// flushMu serializes flushes so a forced save runs strictly after an in-flight one.
	flushMu      sync.Mutex
	forceWaiting atomic.Int32

	unsubscribe func()
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// New creates an engine for one (schedule, examinee) session. Call Start to begin
// listening to the network signal.
func New(opts Options) *Engine {
	opts.defaults()
	return &Engine{
		opts: opts,
		log: opts.Log.With().
			Str("component", "autosave").
			Str("schedule_id", opts.ScheduleID.String()).
			Int("examinee_id", opts.ExamineeID).
			Logger(),
		backupKey: config.StorageKey.AnswerBackupKey(opts.ScheduleID, opts.ExamineeID),
		pending:   make(map[uuid.UUID]model.PendingChange),
		state:     StateIdle,
		abort:     make(chan struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the network signal and runs the periodic queue replay.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.offline = !e.opts.Network.Online()
	if e.offline {
		e.state = StateOffline
	}
	e.mu.Unlock()

	e.unsubscribe = e.opts.Network.Subscribe(e.onNetwork)
	go e.replayLoop()

	if !e.isOffline() {
		go func() {
			if _, err := e.SyncOfflineQueue(context.Background()); err != nil && !errors.Is(err, ErrOffline) {
				e.log.Warn().Err(err).Msg("Startup offline replay incomplete")
			}
		}()
	}
}

// Enqueue records a change in the pending buffer, mirrors it locally and (re)arms the
// debounce timer. A newer change to the same question supersedes the older one.
func (e *Engine) Enqueue(change model.PendingChange) {
	change.ScheduleID = e.opts.ScheduleID
	change.ExamineeID = e.opts.ExamineeID

	e.mu.Lock()
	e.version++
	change.LocalVersion = e.version
	e.pending[change.QuestionID] = change
	e.persistBackupLocked()
	e.scheduleLocked()
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
}

// PatchAttempt schedules attempt fields (violation count, status) for the next flush.
func (e *Engine) PatchAttempt(patch model.AttemptPatch) {
	patch.ScheduleID = e.opts.ScheduleID
	patch.ExamineeID = e.opts.ExamineeID

	e.mu.Lock()
	merged := patch
	if e.patch != nil {
		merged = e.patch.Merge(patch)
	}
	e.patch = &merged
	e.patchVersion++
	e.persistBackupLocked()
	e.scheduleLocked()
	status := e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
}

// ForceSave flushes immediately, bypassing the debounce and interrupting any retry
// backoff in progress. It runs after an in-flight flush completes. What cannot be
// delivered is moved to the offline queue and the error is returned.
func (e *Engine) ForceSave(ctx context.Context, final *Final) error {
	e.forceWaiting.Add(1)
	defer e.forceWaiting.Add(-1)

	e.mu.Lock()
	if final != nil {
		for _, c := range final.Changes {
			c.ScheduleID = e.opts.ScheduleID
			c.ExamineeID = e.opts.ExamineeID
			e.version++
			c.LocalVersion = e.version
			e.pending[c.QuestionID] = c
		}
		p := final.Patch
		p.ScheduleID = e.opts.ScheduleID
		p.ExamineeID = e.opts.ExamineeID
		if e.patch != nil {
			p = e.patch.Merge(p)
		}
		e.patch = &p
		e.patchVersion++
		e.persistBackupLocked()
	}
	e.stopDebounceLocked()
	close(e.abort)
	e.abort = make(chan struct{})
	e.mu.Unlock()

	return e.flush(ctx, true)
}

// SyncOfflineQueue replays the device-wide offline queue.
func (e *Engine) SyncOfflineQueue(ctx context.Context) (int, error) {
	if e.isOffline() {
		return 0, ErrOffline
	}
	n, err := e.opts.Queue.Replay(ctx, e.opts.Store)
	if errors.Is(err, ErrReplayInProgress) {
		// the running replay covers this session's entries too
		err = nil
	}
	e.emit(e.Status())
	return n, err
}

// Status returns the current save status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	s := e.statusLocked()
	e.mu.Unlock()
	s.Queued = e.opts.Queue.CountFor(e.opts.ScheduleID, e.opts.ExamineeID)
	return s
}

// Pending returns the unacknowledged changes in capture order.
func (e *Engine) Pending() []model.PendingChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedChanges(e.pending)
}

// Stop cancels the debounce timer, the replay loop and the network subscription.
// Pending edits stay in the local backup. Stop is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.stopped = true
		started := e.started
		e.stopDebounceLocked()
		close(e.abort)
		e.abort = make(chan struct{})
		e.mu.Unlock()

		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		close(e.stop)
		if started {
			<-e.done
		}
	})
}

// flush pushes the pending buffer. Forced flushes try once and hand failures to the
// offline queue; debounced flushes retry with exponential backoff first.
func (e *Engine) flush(ctx context.Context, force bool) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if !force && e.forceWaiting.Load() > 0 {
		e.mu.Unlock()
		return nil
	}
	abort := e.abort
	batch := sortedChanges(e.pending)
	var patch *model.AttemptPatch
	if e.patch != nil {
		p := *e.patch
		patch = &p
	}
	patchVersion := e.patchVersion

	if len(batch) == 0 && patch == nil {
		e.mu.Unlock()
		return nil
	}
	if e.offline {
		var err error = ErrOffline
		if force {
			err = e.queueLocked(batch, patch, patchVersion, ErrOffline)
		}
		status := e.statusLocked()
		e.mu.Unlock()
		e.emit(status)
		return err
	}
	e.state = StateSaving
	status := e.statusLocked()
	e.mu.Unlock()
	e.emit(status)

	attempts := e.opts.MaxAttempts
	if force {
		attempts = 1
	}
	err := e.send(ctx, batch, patch, attempts, abort)

	e.mu.Lock()
	switch {
	case err == nil:
		e.ackLocked(batch, patch != nil, patchVersion)
		now := e.opts.Clock.Now()
		e.lastSavedAt = &now
		e.lastErr = nil
		e.state = StateSaved
		if len(e.pending) > 0 || e.patch != nil {
			e.state = StatePending
		}
		e.log.Debug().Int("changes", len(batch)).Msg("Saved")
	case errors.Is(err, errAborted) && !force:
		e.state = StatePending
		if e.offline {
			e.state = StateOffline
		}
		err = nil
	case errors.Is(err, model.ErrMalformedData):
		e.ackLocked(batch, patch != nil, patchVersion)
		e.lastErr = err
		e.state = StateError
		e.log.Error().Err(err).Int("changes", len(batch)).Msg("Remote store rejected batch, dropping it")
	default:
		err = e.queueLocked(batch, patch, patchVersion, err)
	}
	e.persistBackupLocked()
	status = e.statusLocked()
	e.mu.Unlock()

	e.emit(status)
	return err
}

// send pushes one batch, retrying up to attempts times with exponential backoff.
func (e *Engine) send(ctx context.Context, batch []model.PendingChange, patch *model.AttemptPatch, attempts int, abort <-chan struct{}) error {
	for attempt := 1; ; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, e.opts.SaveTimeout)
		err := push(pctx, e.opts.Store, batch, patch)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrMalformedData) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("save failed after %d attempts: %w", attempt, err)
		}

		wait := e.opts.RetryBase << (attempt - 1)
		e.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("Save failed, retrying")

		e.mu.Lock()
		e.lastErr = err
		e.state = StateError
		status := e.statusLocked()
		e.mu.Unlock()
		e.emit(status)

		select {
		case <-e.opts.Clock.After(wait):
		case <-abort:
			return errAborted
		case <-ctx.Done():
			return errAborted
		}

		e.mu.Lock()
		e.state = StateSaving
		e.mu.Unlock()
	}
}

// push writes answers before the attempt patch so a terminal status never lands
// ahead of the answers it covers.
func push(ctx context.Context, store RemoteStore, changes []model.PendingChange, patch *model.AttemptPatch) error {
	if len(changes) > 0 {
		if err := store.BulkUpsertAnswers(ctx, changes); err != nil {
			return err
		}
	}
	if patch != nil && !patch.Empty() {
		if _, err := store.UpsertAttempt(ctx, *patch); err != nil {
			return err
		}
	}
	return nil
}

// queueLocked moves an undeliverable batch to the offline queue. Caller holds e.mu.
func (e *Engine) queueLocked(batch []model.PendingChange, patch *model.AttemptPatch, patchVersion int64, cause error) error {
	entry := model.OfflineQueueEntry{
		ScheduleID: e.opts.ScheduleID,
		ExamineeID: e.opts.ExamineeID,
		Changes:    batch,
		Attempt:    patch,
		QueuedAt:   e.opts.Clock.Now(),
	}
	e.lastErr = cause
	e.state = StateError
	if e.offline {
		e.state = StateOffline
	}

	if err := e.opts.Queue.Enqueue(entry); err != nil {
		e.log.Error().Err(err).Msg("Offline queue write failed, keeping batch pending")
		return fmt.Errorf("%w (queue: %v)", cause, err)
	}
	e.ackLocked(batch, patch != nil, patchVersion)
	return cause
}

// ackLocked clears the sent entries that were not superseded meanwhile.
func (e *Engine) ackLocked(batch []model.PendingChange, sentPatch bool, patchVersion int64) {
	for _, c := range batch {
		if cur, ok := e.pending[c.QuestionID]; ok && cur.LocalVersion == c.LocalVersion {
			delete(e.pending, c.QuestionID)
		}
	}
	if sentPatch && e.patchVersion == patchVersion {
		e.patch = nil
	}
}

func (e *Engine) onNetwork(online bool) {
	e.mu.Lock()
	e.offline = !online
	if !online {
		e.state = StateOffline
		e.persistBackupLocked()
		e.stopDebounceLocked()
		close(e.abort)
		e.abort = make(chan struct{})
	} else {
		e.state = StateIdle
		if len(e.pending) > 0 || e.patch != nil {
			e.state = StatePending
		}
	}
	stopped := e.stopped
	status := e.statusLocked()
	e.mu.Unlock()

	e.log.Info().Bool("online", online).Msg("Network changed")
	e.emit(status)

	if online && !stopped {
		go e.syncAndFlush()
	}
}

func (e *Engine) syncAndFlush() {
	ctx := context.Background()
	if _, err := e.SyncOfflineQueue(ctx); err != nil && !errors.Is(err, ErrOffline) {
		e.log.Warn().Err(err).Msg("Offline queue replay incomplete")
	}
	if err := e.flush(ctx, false); err != nil && !errors.Is(err, ErrOffline) {
		e.log.Warn().Err(err).Msg("Flush after reconnect failed")
	}
}

func (e *Engine) replayLoop() {
	defer close(e.done)

	ticker := e.opts.Clock.NewTicker(e.opts.ReplayEvery)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.Chan():
			if e.isOffline() || e.opts.Queue.Len() == 0 {
				continue
			}
			if _, err := e.SyncOfflineQueue(context.Background()); err != nil {
				e.log.Warn().Err(err).Msg("Periodic offline replay incomplete")
			}
		}
	}
}

func (e *Engine) onDebounce() {
	if e.forceWaiting.Load() > 0 {
		return
	}
	if err := e.flush(context.Background(), false); err != nil && !errors.Is(err, ErrOffline) {
		e.log.Warn().Err(err).Msg("Debounced save failed")
	}
}

// scheduleLocked moves to Pending and re-arms the debounce timer unless offline.
func (e *Engine) scheduleLocked() {
	if e.offline {
		e.state = StateOffline
		return
	}
	if e.stopped {
		return
	}
	if e.state != StateSaving {
		e.state = StatePending
	}
	e.stopDebounceLocked()
	e.debounce = e.opts.Clock.AfterFunc(e.opts.Debounce, e.onDebounce)
}

func (e *Engine) stopDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
}

func (e *Engine) isOffline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline
}

func (e *Engine) statusLocked() Status {
	s := Status{
		State:       e.state,
		Offline:     e.offline,
		Pending:     len(e.pending),
		LastSavedAt: e.lastSavedAt,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

func (e *Engine) emit(s Status) {
	if e.opts.OnStatus == nil {
		return
	}
	s.Queued = e.opts.Queue.CountFor(e.opts.ScheduleID, e.opts.ExamineeID)
	e.opts.OnStatus(s)
}
