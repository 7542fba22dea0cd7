// Package session owns the lifecycle of one exam attempt on the device: open or resume,
// the personal countdown, answer capture, flags, submission and kick detection. It is the
// only place that moves an attempt's status.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/integrity"
	"github.com/stemsi/exstem-kiosk/internal/logger"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/scoring"
)

const remoteTimeout = 10 * time.Second

// Controller drives a single attempt. Create one per session; it cannot be reopened.
type Controller struct {
	deps  Deps
	opts  Options
	clock clockwork.Clock
	log   zerolog.Logger

	mu            sync.Mutex
	opened        bool
	closed        bool
	schedule      model.ScheduleWindow
	questions     []model.Question
	questionIndex map[uuid.UUID]struct{}
	attempt       model.Attempt
	flags         map[uuid.UUID]struct{}
	result        *model.SubmissionResult
	maxWarnings   int
	baseCount     int

	engine  *autosave.Engine
	monitor *integrity.Monitor

	// submitMu serializes the terminal transitions (submit and kick).
	submitMu  sync.Mutex
	stop      chan struct{}
	haltOnce  sync.Once
	closeOnce sync.Once
}

// NewController wires a controller over the shared device collaborators.
func NewController(deps Deps, opts Options) *Controller {
	opts.defaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	return &Controller{
		deps:  deps,
		opts:  opts,
		clock: deps.Clock,
		log:   deps.Log.With().Str("component", "session").Logger(),
		flags: make(map[uuid.UUID]struct{}),
		stop:  make(chan struct{}),
	}
}

// Open starts or resumes the attempt for (scheduleID, examineeID). A terminal attempt
// fails with model.ErrAlreadyCompleted or model.ErrKicked. When the personal duration
// already elapsed, the attempt is submitted and SessionInit.Result is set.
func (c *Controller) Open(ctx context.Context, scheduleID uuid.UUID, examineeID int) (*SessionInit, error) {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("open session: %w", model.ErrSessionClosed)
	}
	c.opened = true
	c.mu.Unlock()

	c.log = logger.ForSession(c.deps.Log, "session", scheduleID, examineeID)

	schedule, err := c.deps.Source.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if schedule == nil {
		return nil, model.ErrExamUnavailable
	}
	questions, err := c.deps.Source.ListQuestions(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	attempt, err := c.deps.Store.FindAttempt(ctx, scheduleID, examineeID)
	if err != nil {
		return nil, fmt.Errorf("find attempt: %w", err)
	}
	resumed := attempt != nil
	if attempt == nil {
		attempt, err = c.deps.Store.CreateAttempt(ctx, scheduleID, examineeID, c.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
	}

	switch attempt.Status {
	case model.AttemptStatusSubmitted, model.AttemptStatusGraded:
		return nil, model.ErrAlreadyCompleted
	case model.AttemptStatusKicked:
		return nil, model.ErrKicked
	}
	if attempt.Answers == nil {
		attempt.Answers = make(map[uuid.UUID]model.AnswerRecord)
	}

	level, maxWarnings := c.integritySettings(schedule)

	engine := autosave.New(autosave.Options{
		ScheduleID:  scheduleID,
		ExamineeID:  examineeID,
		Store:       c.deps.Store,
		Local:       c.deps.Local,
		Queue:       c.deps.Queue,
		Network:     c.deps.Network,
		Debounce:    c.opts.Debounce,
		MaxAttempts: c.opts.MaxAttempts,
		RetryBase:   c.opts.RetryBase,
		ReplayEvery: c.opts.ReplayEvery,
		Clock:       c.clock,
		Log:         c.deps.Log,
		OnStatus:    c.opts.Hooks.OnSaveStatus,
	})
	if status, ok := engine.LocalTerminal(); ok {
		c.log.Warn().Str("local_status", string(status)).Msg("Attempt already ended on this device, refusing re-entry")
		if c.deps.Network.Online() {
			if _, err := c.deps.Queue.Replay(ctx, c.deps.Store); err != nil {
				c.log.Warn().Err(err).Msg("Replay before refusing re-entry incomplete")
			}
		}
		if status == model.AttemptStatusKicked {
			return nil, model.ErrKicked
		}
		return nil, model.ErrAlreadyCompleted
	}
	replay := mergeBackup(attempt.Answers, engine.LoadBackup())

	c.mu.Lock()
	c.schedule = *schedule
	c.questions = questions
	c.questionIndex = make(map[uuid.UUID]struct{}, len(questions))
	for _, q := range questions {
		c.questionIndex[q.ID] = struct{}{}
	}
	c.attempt = *attempt
	c.maxWarnings = maxWarnings
	c.baseCount = attempt.ViolationCount
	c.engine = engine
	c.mu.Unlock()

	engine.Start()
	for _, change := range replay {
		engine.Enqueue(change)
	}

	init := &SessionInit{
		Attempt:     c.snapshotAttempt(),
		Schedule:    *schedule,
		Questions:   questions,
		Answers:     c.Answers(),
		Resumed:     resumed,
		Integrity:   level,
		MaxWarnings: maxWarnings,
	}

	remaining := c.Remaining()
	if remaining <= 0 {
		c.log.Info().Msg("Personal duration elapsed while away, submitting")
		result, err := c.Submit(ctx, model.SubmitTimeout)
		if err != nil {
			return nil, err
		}
		init.Result = result
		init.Attempt = c.snapshotAttempt()
		return init, nil
	}
	init.Remaining = remaining
	init.RemainingS = int64((remaining + time.Second - 1) / time.Second)

	if c.deps.Surface != nil {
		monitor, err := integrity.NewMonitor(c.deps.Surface,
			integrity.Config{Level: level, MaxWarnings: maxWarnings},
			integrity.WithClock(c.clock),
			integrity.WithLogger(c.log),
			integrity.OnViolation(c.handleViolation),
			integrity.OnLockdownChange(c.handleLockdown),
		)
		if err != nil {
			engine.Stop()
			return nil, err
		}
		c.mu.Lock()
		c.monitor = monitor
		c.mu.Unlock()
		monitor.Start()
	}

	go c.every(c.opts.TickEvery, c.tick)
	go c.every(c.opts.KickPollEvery, func() { c.pollKick(context.Background()) })

	event := EventOpened
	if resumed {
		event = EventResumed
	}
	c.publishLifecycle(event)
	c.log.Info().
		Bool("resumed", resumed).
		Dur("remaining", remaining).
		Int("restored_edits", len(replay)).
		Msg("Session opened")

	return init, nil
}

// RecordAnswer stores value for questionID and forwards it to the sync engine. The value
// is never checked against the answer key.
func (c *Controller) RecordAnswer(questionID uuid.UUID, value json.RawMessage) error {
	c.mu.Lock()
	if err := c.liveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.questionIndex[questionID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown question %s: %w", questionID, model.ErrMalformedData)
	}
	now := c.clock.Now()
	value = append(json.RawMessage(nil), value...)
	c.attempt.Answers[questionID] = model.AnswerRecord{Value: value, RecordedAt: now}
	engine := c.engine
	c.mu.Unlock()

	engine.Enqueue(model.PendingChange{
		QuestionID: questionID,
		Value:      value,
		CapturedAt: now,
	})
	return nil
}

// ToggleFlag flips the review mark of questionID and reports whether it is now set.
// Flags are local only.
func (c *Controller) ToggleFlag(questionID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flags[questionID]; ok {
		delete(c.flags, questionID)
		return false
	}
	c.flags[questionID] = struct{}{}
	return true
}

// Flags returns the flagged question ids in a stable order.
func (c *Controller) Flags() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uuid.UUID, 0, len(c.flags))
	for id := range c.flags {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Answers returns a copy of the current answer map.
func (c *Controller) Answers() map[uuid.UUID]model.AnswerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uuid.UUID]model.AnswerRecord, len(c.attempt.Answers))
	for k, v := range c.attempt.Answers {
		out[k] = v
	}
	return out
}

// Remaining is the personal time left, derived from the attempt's start. It is zero once
// the attempt left in_progress.
func (c *Controller) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.attempt.Status != model.AttemptStatusInProgress {
		return 0
	}
	left := c.schedule.PersonalDuration() - c.clock.Since(c.attempt.StartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Status is the attempt's current status.
func (c *Controller) Status() model.AttemptStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt.Status
}

// SaveStatus is the sync engine's current status.
func (c *Controller) SaveStatus() autosave.Status {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return autosave.Status{State: autosave.StateIdle}
	}
	return engine.Status()
}

// Violations returns the integrity log of this session.
func (c *Controller) Violations() []model.Violation {
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor == nil {
		return nil
	}
	return monitor.Violations()
}

// Submit scores the objective questions, marks the attempt submitted and flushes the final
// snapshot synchronously. A failed flush is queued for replay and not reported: the attempt
// counts as submitted locally. Repeated calls return the first result.
func (c *Controller) Submit(ctx context.Context, reason model.SubmitReason) (*model.SubmissionResult, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return nil, model.ErrSessionClosed
	}
	if c.result != nil {
		result := c.result
		c.mu.Unlock()
		return result, nil
	}
	switch c.attempt.Status {
	case model.AttemptStatusKicked:
		c.mu.Unlock()
		return nil, model.ErrKicked
	case model.AttemptStatusInProgress:
	default:
		c.mu.Unlock()
		return nil, model.ErrAlreadyCompleted
	}

	now := c.clock.Now()
	result := scoring.Score(c.questions, c.attempt.Answers, reason, now)
	status := model.AttemptStatusSubmitted
	c.attempt.Status = status
	c.attempt.CompletedAt = &now
	c.attempt.TotalScore = &result.TotalScore
	c.attempt.MaxScore = &result.MaxScore
	c.attempt.SubmitReason = &reason
	c.result = &result

	violations := c.attempt.ViolationCount
	final := &autosave.Final{
		Changes: finalChanges(c.attempt.Answers),
		Patch: model.AttemptPatch{
			Status:         &status,
			CompletedAt:    &now,
			ViolationCount: &violations,
			TotalScore:     &result.TotalScore,
			MaxScore:       &result.MaxScore,
			SubmitReason:   &reason,
		},
	}
	engine := c.engine
	c.mu.Unlock()

	c.halt()

	if err := engine.ForceSave(ctx, final); err != nil {
		c.log.Warn().Err(err).Msg("Final save failed, submission queued for replay")
	}

	c.publishLifecycle(EventSubmitted)
	c.log.Info().
		Str("reason", string(reason)).
		Float64("total_score", result.TotalScore).
		Float64("max_score", result.MaxScore).
		Msg("Attempt submitted")

	if fn := c.opts.Hooks.OnSubmitted; fn != nil {
		fn(&result)
	}
	return &result, nil
}

// ForceSave flushes pending edits now. Used on page unload; best-effort.
func (c *Controller) ForceSave(ctx context.Context) error {
	c.mu.Lock()
	engine := c.engine
	c.mu.Unlock()
	if engine == nil {
		return model.ErrSessionClosed
	}
	return engine.ForceSave(ctx, nil)
}

// Close stops the countdown, kick polling, integrity monitor and sync engine. Unsaved
// edits stay in the local backup. Close is idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.halt()

		c.mu.Lock()
		c.closed = true
		engine := c.engine
		c.mu.Unlock()

		if engine != nil {
			engine.Stop()
		}
		c.log.Debug().Msg("Session closed")
	})
}

// tick runs once per second: reports the remaining time and submits at zero.
func (c *Controller) tick() {
	if c.Status() != model.AttemptStatusInProgress {
		return
	}
	remaining := c.Remaining()
	if fn := c.opts.Hooks.OnTick; fn != nil {
		fn(remaining)
	}
	if remaining > 0 {
		return
	}
	if _, err := c.Submit(context.Background(), model.SubmitTimeout); err != nil && !errors.Is(err, model.ErrKicked) {
		c.log.Error().Err(err).Msg("Timeout submit failed")
	}
}

// pollKick asks the remote store whether a proctor ended the attempt.
func (c *Controller) pollKick(ctx context.Context) {
	if c.Status() != model.AttemptStatusInProgress || !c.deps.Network.Online() {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	c.mu.Lock()
	scheduleID, examineeID := c.attempt.ScheduleID, c.attempt.ExamineeID
	c.mu.Unlock()

	status, err := c.deps.Store.GetAttemptStatus(ctx, scheduleID, examineeID)
	if err != nil {
		c.log.Debug().Err(err).Msg("Kick poll failed")
		return
	}
	if status == model.AttemptStatusKicked {
		c.kick(ctx)
	}
}

// kick halts the session without scoring. Pending answers are still flushed best-effort;
// the status itself is owned remotely.
func (c *Controller) kick(ctx context.Context) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	if c.attempt.Status != model.AttemptStatusInProgress {
		c.mu.Unlock()
		return
	}
	c.attempt.Status = model.AttemptStatusKicked
	engine := c.engine
	c.mu.Unlock()

	c.halt()
	c.log.Warn().Msg("Attempt kicked by proctor")

	if err := engine.ForceSave(ctx, nil); err != nil {
		c.log.Warn().Err(err).Msg("Flush after kick failed")
	}
	c.publishLifecycle(EventKicked)

	if fn := c.opts.Hooks.OnKicked; fn != nil {
		fn()
	}
}

func (c *Controller) handleViolation(v model.Violation, count int) {
	c.mu.Lock()
	if c.attempt.Status != model.AttemptStatusInProgress {
		c.mu.Unlock()
		return
	}
	total := c.baseCount + count
	if total > c.attempt.ViolationCount {
		c.attempt.ViolationCount = total
	}
	total = c.attempt.ViolationCount
	maxWarnings := c.maxWarnings
	scheduleID, examineeID := c.attempt.ScheduleID, c.attempt.ExamineeID
	engine := c.engine
	c.mu.Unlock()

	engine.PatchAttempt(model.AttemptPatch{ViolationCount: &total})

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	if err := c.deps.Publisher.PublishViolation(ctx, scheduleID, examineeID, v, total); err != nil {
		c.log.Warn().Err(err).Msg("Publish violation failed")
	}
	cancel()

	if fn := c.opts.Hooks.OnViolation; fn != nil {
		fn(v, total, maxWarnings)
	}

	if total >= maxWarnings {
		c.log.Warn().Int("count", total).Int("max_warnings", maxWarnings).Msg("Violation limit reached")
		if _, err := c.Submit(context.Background(), model.SubmitViolationLimit); err != nil && !errors.Is(err, model.ErrKicked) {
			c.log.Error().Err(err).Msg("Violation limit submit failed")
		}
	}
}

func (c *Controller) handleLockdown(locked bool) {
	if fn := c.opts.Hooks.OnLockdown; fn != nil {
		fn(locked)
	}
}

// halt stops the countdown, the kick poll and the integrity monitor. It does not wait,
// so it is safe from inside their callbacks.
func (c *Controller) halt() {
	c.haltOnce.Do(func() {
		close(c.stop)
	})
	c.mu.Lock()
	monitor := c.monitor
	c.mu.Unlock()
	if monitor != nil {
		monitor.Destroy()
	}
}

func (c *Controller) every(d time.Duration, fn func()) {
	ticker := c.clock.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			fn()
		}
	}
}

func (c *Controller) liveLocked() error {
	switch {
	case !c.opened || c.closed:
		return model.ErrSessionClosed
	case c.attempt.Status == model.AttemptStatusKicked:
		return model.ErrKicked
	case c.attempt.Status != model.AttemptStatusInProgress:
		return model.ErrAlreadyCompleted
	}
	return nil
}

func (c *Controller) integritySettings(s *model.ScheduleWindow) (integrity.Level, int) {
	level := c.opts.IntegrityLevel
	if s.IntegrityLevel != nil {
		if parsed, err := integrity.ParseLevel(*s.IntegrityLevel); err == nil {
			level = parsed
		} else {
			c.log.Warn().Err(err).Msg("Ignoring schedule integrity level")
		}
	}
	maxWarnings := c.opts.MaxWarnings
	if s.MaxWarnings != nil && *s.MaxWarnings > 0 {
		maxWarnings = *s.MaxWarnings
	}
	return level, maxWarnings
}

func (c *Controller) snapshotAttempt() model.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.attempt
	a.Answers = make(map[uuid.UUID]model.AnswerRecord, len(c.attempt.Answers))
	for k, v := range c.attempt.Answers {
		a.Answers[k] = v
	}
	return a
}

func (c *Controller) publishLifecycle(event string) {
	c.mu.Lock()
	scheduleID, examineeID := c.attempt.ScheduleID, c.attempt.ExamineeID
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	if err := c.deps.Publisher.PublishLifecycle(ctx, scheduleID, examineeID, event); err != nil {
		c.log.Warn().Err(err).Str("event", event).Msg("Publish lifecycle failed")
	}
}

// mergeBackup folds locally backed-up edits into answers, keeping the more recently
// captured value per question. It returns the edits that won and still need syncing.
func mergeBackup(answers map[uuid.UUID]model.AnswerRecord, backup []model.PendingChange) []model.PendingChange {
	var replay []model.PendingChange
	for _, change := range backup {
		if cur, ok := answers[change.QuestionID]; ok && !change.CapturedAt.After(cur.RecordedAt) {
			continue
		}
		answers[change.QuestionID] = model.AnswerRecord{Value: change.Value, RecordedAt: change.CapturedAt}
		replay = append(replay, change)
	}
	return replay
}

func finalChanges(answers map[uuid.UUID]model.AnswerRecord) []model.PendingChange {
	out := make([]model.PendingChange, 0, len(answers))
	for id, rec := range answers {
		out = append(out, model.PendingChange{QuestionID: id, Value: rec.Value, CapturedAt: rec.RecordedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}
