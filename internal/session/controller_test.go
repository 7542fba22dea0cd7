package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/integrity"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
)

// memStore is an in-memory remote attempt store with the same merge rules as Postgres.
type memStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	creates  int
	patches  []model.AttemptPatch
	bulk     int
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[uuid.UUID]*model.Attempt)}
}

func (s *memStore) put(a model.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Answers == nil {
		a.Answers = make(map[uuid.UUID]model.AnswerRecord)
	}
	s.attempts[a.ScheduleID] = &a
}

func (s *memStore) FindAttempt(_ context.Context, scheduleID uuid.UUID, _ int) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[scheduleID]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.Answers = make(map[uuid.UUID]model.AnswerRecord, len(a.Answers))
	for k, v := range a.Answers {
		cp.Answers[k] = v
	}
	return &cp, nil
}

func (s *memStore) CreateAttempt(_ context.Context, scheduleID uuid.UUID, examineeID int, startedAt time.Time) (*model.Attempt, error) {
	s.mu.Lock()
	s.creates++
	s.attempts[scheduleID] = &model.Attempt{
		ID:         uuid.New(),
		ScheduleID: scheduleID,
		ExamineeID: examineeID,
		Status:     model.AttemptStatusInProgress,
		StartedAt:  startedAt,
		Answers:    make(map[uuid.UUID]model.AnswerRecord),
	}
	s.mu.Unlock()
	return s.FindAttempt(context.Background(), scheduleID, examineeID)
}

func (s *memStore) UpsertAttempt(_ context.Context, p model.AttemptPatch) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patches = append(s.patches, p)
	a := s.attempts[p.ScheduleID]
	if p.Status != nil && a.Status != model.AttemptStatusKicked {
		a.Status = *p.Status
	}
	if p.ViolationCount != nil && *p.ViolationCount > a.ViolationCount {
		a.ViolationCount = *p.ViolationCount
	}
	if p.TotalScore != nil {
		a.TotalScore = p.TotalScore
	}
	if p.MaxScore != nil {
		a.MaxScore = p.MaxScore
	}
	return a, nil
}

func (s *memStore) BulkUpsertAnswers(_ context.Context, changes []model.PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk++
	for _, c := range changes {
		a := s.attempts[c.ScheduleID]
		if cur, ok := a.Answers[c.QuestionID]; ok && cur.RecordedAt.After(c.CapturedAt) {
			continue
		}
		a.Answers[c.QuestionID] = model.AnswerRecord{Value: c.Value, RecordedAt: c.CapturedAt}
	}
	return nil
}

func (s *memStore) GetAttemptStatus(_ context.Context, scheduleID uuid.UUID, _ int) (model.AttemptStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[scheduleID].Status, nil
}

func (s *memStore) setStatus(scheduleID uuid.UUID, status model.AttemptStatus) {
	s.mu.Lock()
	s.attempts[scheduleID].Status = status
	s.mu.Unlock()
}

func (s *memStore) answer(scheduleID, q uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.attempts[scheduleID].Answers[q]
	return string(rec.Value), ok
}

func (s *memStore) submittedPatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.patches {
		if p.Status != nil && *p.Status == model.AttemptStatusSubmitted {
			n++
		}
	}
	return n
}

func (s *memStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates + s.bulk + len(s.patches)
}

type memSource struct {
	schedule  *model.ScheduleWindow
	questions []model.Question
}

func (s *memSource) GetSchedule(context.Context, uuid.UUID) (*model.ScheduleWindow, error) {
	return s.schedule, nil
}

func (s *memSource) ListQuestions(context.Context, uuid.UUID) ([]model.Question, error) {
	return s.questions, nil
}

// stubSurface dispatches events synchronously to subscribers.
type stubSurface struct {
	mu   sync.Mutex
	subs map[integrity.EventKind][]func(*integrity.Event)
}

func (s *stubSurface) Subscribe(kind integrity.EventKind, fn func(*integrity.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[integrity.EventKind][]func(*integrity.Event))
	}
	s.subs[kind] = append(s.subs[kind], fn)
	idx := len(s.subs[kind]) - 1
	return func() {
		s.mu.Lock()
		s.subs[kind][idx] = nil
		s.mu.Unlock()
	}
}

func (s *stubSurface) Metrics() integrity.WindowMetrics {
	return integrity.WindowMetrics{OuterWidth: 1280, OuterHeight: 800, InnerWidth: 1280, InnerHeight: 720}
}

func (s *stubSurface) SetSelectionEnabled(bool) {}

func (s *stubSurface) fire(kind integrity.EventKind) {
	s.mu.Lock()
	fns := append(([]func(*integrity.Event))(nil), s.subs[kind]...)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(&integrity.Event{Kind: kind})
		}
	}
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clockwork.FakeClock
	store    *memStore
	source   *memSource
	local    *localstore.Memory
	queue    *autosave.OfflineQueue
	network  *netstatus.Manual
	surface  *stubSurface
	schedule uuid.UUID
}

func newFixture(t *testing.T, durationMinutes int, questions ...model.Question) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clockwork.NewFakeClockAt(t0),
		store:    newMemStore(),
		local:    localstore.NewMemory(),
		network:  netstatus.NewManual(true),
		schedule: uuid.New(),
	}
	f.queue = autosave.NewOfflineQueue(f.local, zerolog.Nop())
	f.source = &memSource{
		schedule: &model.ScheduleWindow{
			ID:              f.schedule,
			Subject:         "Mathematics",
			ExamType:        "midterm",
			StartsAt:        t0,
			EndsAt:          t0.Add(2 * time.Hour),
			DurationMinutes: durationMinutes,
		},
		questions: questions,
	}
	return f
}

func (f *fixture) controller(t *testing.T, opts Options) *Controller {
	t.Helper()
	deps := Deps{
		Store:   f.store,
		Source:  f.source,
		Local:   f.local,
		Queue:   f.queue,
		Network: f.network,
		Clock:   f.clock,
		Log:     zerolog.Nop(),
	}
	if f.surface != nil {
		deps.Surface = f.surface
	}
	c := NewController(deps, opts)
	t.Cleanup(c.Close)
	return c
}

func singleChoice(points float64, key int) model.Question {
	raw, _ := json.Marshal(key)
	return model.Question{ID: uuid.New(), Kind: model.QuestionKindSingleChoice, Points: points, AnswerKey: raw}
}

func essay(points float64) model.Question {
	return model.Question{ID: uuid.New(), Kind: model.QuestionKindEssay, Points: points}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenFreshAttempt(t *testing.T) {
	f := newFixture(t, 60, singleChoice(10, 1))
	f.clock.Advance(10 * time.Minute)
	c := f.controller(t, Options{})

	init, err := c.Open(context.Background(), f.schedule, 42)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if init.Resumed {
		t.Error("fresh attempt reported as resumed")
	}
	if init.RemainingS != 3600 {
		t.Errorf("remaining = %ds, want 3600", init.RemainingS)
	}
	if !init.Attempt.StartedAt.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("startedAt = %v", init.Attempt.StartedAt)
	}
	if f.store.writes() != 1 {
		t.Errorf("remote writes = %d, want exactly the create", f.store.writes())
	}
	if c.Status() != model.AttemptStatusInProgress {
		t.Errorf("status = %s", c.Status())
	}
}

func TestOpenResumeComputesRemaining(t *testing.T) {
	f := newFixture(t, 90, singleChoice(10, 1))
	q := f.source.questions[0].ID
	f.store.put(model.Attempt{
		ID: uuid.New(), ScheduleID: f.schedule, ExamineeID: 42,
		Status: model.AttemptStatusInProgress, StartedAt: t0,
		Answers: map[uuid.UUID]model.AnswerRecord{q: {Value: json.RawMessage("1"), RecordedAt: t0.Add(time.Minute)}},
	})
	f.clock.Advance(40 * time.Minute)
	c := f.controller(t, Options{})

	init, err := c.Open(context.Background(), f.schedule, 42)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !init.Resumed {
		t.Error("expected resume")
	}
	if d := init.Remaining - 50*time.Minute; d > time.Second || d < -time.Second {
		t.Errorf("remaining = %v, want 50m", init.Remaining)
	}
	if string(init.Answers[q].Value) != "1" {
		t.Errorf("answers not rehydrated: %+v", init.Answers)
	}
	if f.store.writes() != 0 {
		t.Errorf("resume performed %d remote writes", f.store.writes())
	}
}

func TestOpenResumeAfterDurationSubmits(t *testing.T) {
	f := newFixture(t, 90, singleChoice(10, 1))
	f.store.put(model.Attempt{
		ID: uuid.New(), ScheduleID: f.schedule, ExamineeID: 42,
		Status: model.AttemptStatusInProgress, StartedAt: t0,
	})
	f.clock.Advance(95 * time.Minute)
	c := f.controller(t, Options{})

	init, err := c.Open(context.Background(), f.schedule, 42)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if init.Result == nil || init.Result.Reason != model.SubmitTimeout {
		t.Fatalf("result = %+v, want timeout submission", init.Result)
	}
	if init.RemainingS != 0 || c.Remaining() != 0 {
		t.Errorf("remaining should be zero")
	}
	if c.Status() != model.AttemptStatusSubmitted {
		t.Errorf("status = %s", c.Status())
	}
	if f.store.submittedPatches() != 1 {
		t.Errorf("submitted patches = %d, want 1", f.store.submittedPatches())
	}
}

func TestOpenRejectsTerminalAttempts(t *testing.T) {
	tests := []struct {
		status model.AttemptStatus
		want   error
	}{
		{model.AttemptStatusSubmitted, model.ErrAlreadyCompleted},
		{model.AttemptStatusGraded, model.ErrAlreadyCompleted},
		{model.AttemptStatusKicked, model.ErrKicked},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture(t, 60)
			f.store.put(model.Attempt{ScheduleID: f.schedule, ExamineeID: 1, Status: tt.status, StartedAt: t0})
			c := f.controller(t, Options{})

			if _, err := c.Open(context.Background(), f.schedule, 1); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenMissingSchedule(t *testing.T) {
	f := newFixture(t, 60)
	f.source.schedule = nil
	c := f.controller(t, Options{})

	if _, err := c.Open(context.Background(), f.schedule, 1); !errors.Is(err, model.ErrExamUnavailable) {
		t.Fatalf("err = %v, want ErrExamUnavailable", err)
	}
}

func TestRecordAnswerAndFlags(t *testing.T) {
	q := singleChoice(10, 2)
	f := newFixture(t, 60, q)
	c := f.controller(t, Options{})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	if err := c.RecordAnswer(q.ID, json.RawMessage("1")); err != nil {
		t.Fatal(err)
	}
	if err := c.RecordAnswer(q.ID, json.RawMessage("2")); err != nil {
		t.Fatal(err)
	}
	if got := string(c.Answers()[q.ID].Value); got != "2" {
		t.Errorf("answer = %s, want the latest value", got)
	}
	if err := c.RecordAnswer(uuid.New(), json.RawMessage("1")); !errors.Is(err, model.ErrMalformedData) {
		t.Errorf("unknown question err = %v", err)
	}

	if !c.ToggleFlag(q.ID) || len(c.Flags()) != 1 {
		t.Error("first toggle should flag")
	}
	if c.ToggleFlag(q.ID) || len(c.Flags()) != 0 {
		t.Error("second toggle should unflag")
	}
}

func TestSubmitScoresObjectiveOnly(t *testing.T) {
	right, wrong, skipped, text := singleChoice(10, 1), singleChoice(10, 2), singleChoice(10, 0), essay(20)
	f := newFixture(t, 60, right, wrong, skipped, text)
	c := f.controller(t, Options{})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	_ = c.RecordAnswer(right.ID, json.RawMessage("1"))
	_ = c.RecordAnswer(wrong.ID, json.RawMessage("3"))
	_ = c.RecordAnswer(text.ID, json.RawMessage(`"photosynthesis needs light"`))

	result, err := c.Submit(context.Background(), model.SubmitManual)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.TotalScore != 10 || result.MaxScore != 50 {
		t.Fatalf("score = %v/%v, want 10/50", result.TotalScore, result.MaxScore)
	}
	for _, qs := range result.Breakdown {
		if qs.QuestionID == text.ID && (qs.EarnedPoints != nil || !qs.NeedsManualGrading) {
			t.Errorf("essay entry = %+v, want deferred", qs)
		}
	}
	if v, ok := f.store.answer(f.schedule, text.ID); !ok || v == "" {
		t.Error("final snapshot should carry every answer")
	}
}

func TestSubmitIsIdempotentUnderRace(t *testing.T) {
	f := newFixture(t, 60, singleChoice(10, 1))
	var submittedHooks int
	var mu sync.Mutex
	c := f.controller(t, Options{Hooks: Hooks{OnSubmitted: func(*model.SubmissionResult) {
		mu.Lock()
		submittedHooks++
		mu.Unlock()
	}}})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	results := make([]*model.SubmissionResult, 2)
	var wg sync.WaitGroup
	for i, reason := range []model.SubmitReason{model.SubmitManual, model.SubmitTimeout} {
		wg.Add(1)
		go func(i int, reason model.SubmitReason) {
			defer wg.Done()
			r, err := c.Submit(context.Background(), reason)
			if err != nil {
				t.Errorf("Submit: %v", err)
			}
			results[i] = r
		}(i, reason)
	}
	wg.Wait()

	if results[0] != results[1] {
		t.Fatal("both calls should return the same result")
	}
	if f.store.submittedPatches() != 1 {
		t.Fatalf("submitted transitions = %d, want 1", f.store.submittedPatches())
	}
	if submittedHooks != 1 {
		t.Fatalf("OnSubmitted fired %d times", submittedHooks)
	}

	c.tick()
	if f.store.submittedPatches() != 1 {
		t.Fatal("expiry tick after submit must be a no-op")
	}
}

func TestTimerExpirySubmits(t *testing.T) {
	f := newFixture(t, 1, singleChoice(10, 1))
	var ticks []time.Duration
	c := f.controller(t, Options{TickEvery: time.Hour, KickPollEvery: time.Hour, Hooks: Hooks{
		OnTick: func(d time.Duration) { ticks = append(ticks, d) },
	}})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(30 * time.Second)
	c.tick()
	if c.Status() != model.AttemptStatusInProgress {
		t.Fatal("should still be running at 30s")
	}
	f.clock.Advance(30 * time.Second)
	c.tick()

	if c.Status() != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want submitted at zero", c.Status())
	}
	if len(ticks) != 2 || ticks[0] != 30*time.Second || ticks[1] != 0 {
		t.Fatalf("ticks = %v", ticks)
	}
}

func TestViolationThresholdSubmitsOnce(t *testing.T) {
	f := newFixture(t, 60, singleChoice(10, 1))
	f.surface = &stubSurface{}
	var counts []int
	submitted := 0
	c := f.controller(t, Options{
		IntegrityLevel: integrity.LevelLow,
		MaxWarnings:    3,
		Hooks: Hooks{
			OnViolation: func(_ model.Violation, count, maxWarnings int) {
				if maxWarnings != 3 {
					t.Errorf("maxWarnings = %d", maxWarnings)
				}
				counts = append(counts, count)
			},
			OnSubmitted: func(r *model.SubmissionResult) {
				submitted++
				if r.Reason != model.SubmitViolationLimit {
					t.Errorf("reason = %s", r.Reason)
				}
			},
		},
	})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		f.surface.fire(integrity.EventCopy)
	}

	if len(counts) != 3 || counts[2] != 3 {
		t.Fatalf("violation counts = %v, want [1 2 3]", counts)
	}
	if submitted != 1 {
		t.Fatalf("submit fired %d times, want 1", submitted)
	}
	if c.Status() != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s", c.Status())
	}
}

func TestFullscreenExitAtLimitSkipsLockdown(t *testing.T) {
	f := newFixture(t, 60, singleChoice(10, 1))
	f.surface = &stubSurface{}
	var mu sync.Mutex
	var hooks []string
	record := func(h string) {
		mu.Lock()
		hooks = append(hooks, h)
		mu.Unlock()
	}
	c := f.controller(t, Options{
		IntegrityLevel: integrity.LevelHigh,
		MaxWarnings:    1,
		Hooks: Hooks{
			OnSubmitted: func(*model.SubmissionResult) { record("submitted") },
			OnLockdown: func(locked bool) {
				if locked {
					record("lockdown(true)")
				} else {
					record("lockdown(false)")
				}
			},
		},
	})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}

	f.surface.fire(integrity.EventFullscreenChange)

	if c.Status() != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want submitted at the limit", c.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(hooks) != 1 || hooks[0] != "submitted" {
		t.Fatalf("hooks = %v, want only submitted", hooks)
	}
}

func TestKickPollEndsSession(t *testing.T) {
	q := singleChoice(10, 1)
	f := newFixture(t, 60, q)
	kicked := 0
	c := f.controller(t, Options{Hooks: Hooks{OnKicked: func() { kicked++ }}})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}
	_ = c.RecordAnswer(q.ID, json.RawMessage("1"))

	c.pollKick(context.Background())
	if c.Status() != model.AttemptStatusInProgress {
		t.Fatal("no kick yet")
	}

	f.store.setStatus(f.schedule, model.AttemptStatusKicked)
	c.pollKick(context.Background())

	if c.Status() != model.AttemptStatusKicked || kicked != 1 {
		t.Fatalf("status = %s, kicked hook = %d", c.Status(), kicked)
	}
	if c.Remaining() != 0 {
		t.Error("timer should halt on kick")
	}
	if err := c.RecordAnswer(q.ID, json.RawMessage("2")); !errors.Is(err, model.ErrKicked) {
		t.Errorf("RecordAnswer err = %v", err)
	}
	if _, err := c.Submit(context.Background(), model.SubmitManual); !errors.Is(err, model.ErrKicked) {
		t.Errorf("Submit err = %v", err)
	}
	if f.store.submittedPatches() != 0 {
		t.Error("a kicked attempt must not be scored or submitted")
	}
	if v, ok := f.store.answer(f.schedule, q.ID); !ok || v != "1" {
		t.Error("pending answers should still be flushed after a kick")
	}
}

func TestResumeMergesLocalBackup(t *testing.T) {
	q1, q2 := singleChoice(10, 1), singleChoice(10, 2)
	f := newFixture(t, 90, q1, q2)
	f.store.put(model.Attempt{
		ID: uuid.New(), ScheduleID: f.schedule, ExamineeID: 9,
		Status: model.AttemptStatusInProgress, StartedAt: t0,
		Answers: map[uuid.UUID]model.AnswerRecord{
			q1.ID: {Value: json.RawMessage("0"), RecordedAt: t0.Add(time.Minute)},
			q2.ID: {Value: json.RawMessage("3"), RecordedAt: t0.Add(4 * time.Minute)},
		},
	})
	backup, _ := json.Marshal(map[string]any{"changes": []model.PendingChange{
		{ScheduleID: f.schedule, ExamineeID: 9, QuestionID: q1.ID, Value: json.RawMessage("2"), CapturedAt: t0.Add(5 * time.Minute)},
		{ScheduleID: f.schedule, ExamineeID: 9, QuestionID: q2.ID, Value: json.RawMessage("1"), CapturedAt: t0.Add(2 * time.Minute)},
	}})
	if err := f.local.Set(config.StorageKey.AnswerBackupKey(f.schedule, 9), backup); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(10 * time.Minute)
	c := f.controller(t, Options{})

	init, err := c.Open(context.Background(), f.schedule, 9)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(init.Answers[q1.ID].Value); got != "2" {
		t.Errorf("q1 = %s, want newer local value 2", got)
	}
	if got := string(init.Answers[q2.ID].Value); got != "3" {
		t.Errorf("q2 = %s, want newer remote value 3", got)
	}

	if err := c.ForceSave(context.Background()); err != nil {
		t.Fatal(err)
	}
	if v, _ := f.store.answer(f.schedule, q1.ID); v != "2" {
		t.Errorf("restored edit not synced, remote q1 = %s", v)
	}
}

func TestSubmitOfflineQueuesFinalSnapshot(t *testing.T) {
	q := singleChoice(10, 1)
	f := newFixture(t, 60, q)
	c := f.controller(t, Options{})
	if _, err := c.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}
	_ = c.RecordAnswer(q.ID, json.RawMessage("1"))
	f.network.Set(false)

	result, err := c.Submit(context.Background(), model.SubmitManual)
	if err != nil {
		t.Fatalf("Submit must not fail offline: %v", err)
	}
	if result.TotalScore != 10 || c.Status() != model.AttemptStatusSubmitted {
		t.Fatalf("result = %+v, status = %s", result, c.Status())
	}
	if f.queue.CountFor(f.schedule, 1) != 1 {
		t.Fatal("final snapshot should be queued")
	}

	f.network.Set(true)
	waitUntil(t, "queued submit replayed", func() bool { return f.store.submittedPatches() == 1 })
}

func TestOpenRefusesAttemptSubmittedOffline(t *testing.T) {
	q := singleChoice(10, 1)
	f := newFixture(t, 60, q)
	first := f.controller(t, Options{})
	if _, err := first.Open(context.Background(), f.schedule, 1); err != nil {
		t.Fatal(err)
	}
	_ = first.RecordAnswer(q.ID, json.RawMessage("1"))
	f.network.Set(false)
	if _, err := first.Submit(context.Background(), model.SubmitManual); err != nil {
		t.Fatal(err)
	}
	first.Close()

	if status, _ := f.store.GetAttemptStatus(context.Background(), f.schedule, 1); status != model.AttemptStatusInProgress {
		t.Fatalf("remote status = %s, the submit should still be queued", status)
	}

	second := f.controller(t, Options{})
	if _, err := second.Open(context.Background(), f.schedule, 1); !errors.Is(err, model.ErrAlreadyCompleted) {
		t.Fatalf("reopen err = %v, want ErrAlreadyCompleted", err)
	}
	if err := second.RecordAnswer(q.ID, json.RawMessage("2")); err == nil {
		t.Fatal("answers must be refused after a local submit")
	}
	if f.queue.CountFor(f.schedule, 1) != 1 {
		t.Fatal("queued submit must stay queued while offline")
	}
}

func TestOpenDeliversTerminalBackup(t *testing.T) {
	q := singleChoice(10, 1)
	f := newFixture(t, 60, q)
	f.store.put(model.Attempt{
		ID: uuid.New(), ScheduleID: f.schedule, ExamineeID: 3,
		Status: model.AttemptStatusInProgress, StartedAt: t0,
	})
	kicked := model.AttemptStatusKicked
	backup, _ := json.Marshal(map[string]any{
		"changes": []model.PendingChange{
			{ScheduleID: f.schedule, ExamineeID: 3, QuestionID: q.ID, Value: json.RawMessage("1"), CapturedAt: t0.Add(time.Minute)},
		},
		"attempt": model.AttemptPatch{ScheduleID: f.schedule, ExamineeID: 3, Status: &kicked},
	})
	if err := f.local.Set(config.StorageKey.AnswerBackupKey(f.schedule, 3), backup); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(5 * time.Minute)
	c := f.controller(t, Options{})

	if _, err := c.Open(context.Background(), f.schedule, 3); !errors.Is(err, model.ErrKicked) {
		t.Fatalf("err = %v, want ErrKicked", err)
	}
	if status, _ := f.store.GetAttemptStatus(context.Background(), f.schedule, 3); status != model.AttemptStatusKicked {
		t.Errorf("remote status = %s, want the backed up kick delivered", status)
	}
	if v, ok := f.store.answer(f.schedule, q.ID); !ok || v != "1" {
		t.Errorf("backed up answer not delivered: %q", v)
	}
	if f.queue.Len() != 0 {
		t.Errorf("queue length = %d, want drained", f.queue.Len())
	}
	if _, ok, _ := f.local.Get(config.StorageKey.AnswerBackupKey(f.schedule, 3)); ok {
		t.Error("terminal backup should be handed to the queue")
	}
}

// Window 08:00-10:00, 60 minute personal duration, opened at 08:10.
func TestConcreteOfflineScenario(t *testing.T) {
	questions := []model.Question{
		singleChoice(10, 1), singleChoice(10, 2), singleChoice(10, 3), singleChoice(10, 0), singleChoice(10, 1),
	}
	f := newFixture(t, 60, questions...)
	f.clock.Advance(10 * time.Minute)
	c := f.controller(t, Options{TickEvery: time.Hour, KickPollEvery: time.Hour})

	init, err := c.Open(context.Background(), f.schedule, 5)
	if err != nil {
		t.Fatal(err)
	}
	if init.RemainingS != 3600 {
		t.Fatalf("remaining = %d, want 3600", init.RemainingS)
	}

	_ = c.RecordAnswer(questions[0].ID, json.RawMessage("1"))
	_ = c.RecordAnswer(questions[1].ID, json.RawMessage("0"))

	f.clock.Advance(10 * time.Minute)
	waitUntil(t, "debounced save", func() bool {
		_, ok := f.store.answer(f.schedule, questions[1].ID)
		return ok
	})
	f.network.Set(false)

	_ = c.RecordAnswer(questions[2].ID, json.RawMessage("3"))

	f.clock.Advance(5 * time.Minute)
	f.network.Set(true)
	waitUntil(t, "offline answer synced", func() bool {
		_, ok := f.store.answer(f.schedule, questions[2].ID)
		return ok
	})

	f.clock.Advance(5 * time.Minute)
	result, err := c.Submit(context.Background(), model.SubmitManual)
	if err != nil {
		t.Fatal(err)
	}
	if c.Status() != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s", c.Status())
	}
	if result.TotalScore != 20 || result.MaxScore != 50 {
		t.Fatalf("score = %v/%v, want 20/50", result.TotalScore, result.MaxScore)
	}
	if !result.CompletedAt.Equal(t0.Add(30 * time.Minute)) {
		t.Errorf("completedAt = %v, want 08:30", result.CompletedAt)
	}
}
