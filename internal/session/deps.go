package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/integrity"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/netstatus"
)

// AttemptStore is the remote attempt store.
type AttemptStore interface {
	autosave.RemoteStore
	// FindAttempt returns nil, nil when no attempt exists.
	FindAttempt(ctx context.Context, scheduleID uuid.UUID, examineeID int) (*model.Attempt, error)
	CreateAttempt(ctx context.Context, scheduleID uuid.UUID, examineeID int, startedAt time.Time) (*model.Attempt, error)
	GetAttemptStatus(ctx context.Context, scheduleID uuid.UUID, examineeID int) (model.AttemptStatus, error)
}

// ExamSource is the read-only question and schedule source.
type ExamSource interface {
	// GetSchedule returns nil, nil when the schedule does not exist.
	GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*model.ScheduleWindow, error)
	ListQuestions(ctx context.Context, scheduleID uuid.UUID) ([]model.Question, error)
}

// Lifecycle events published to the proctor feed.
const (
	EventOpened    = "opened"
	EventResumed   = "resumed"
	EventSubmitted = "submitted"
	EventKicked    = "kicked"
)

// Publisher forwards session activity to proctors. Failures are logged, never fatal.
type Publisher interface {
	PublishViolation(ctx context.Context, scheduleID uuid.UUID, examineeID int, v model.Violation, count int) error
	PublishLifecycle(ctx context.Context, scheduleID uuid.UUID, examineeID int, event string) error
}

type nopPublisher struct{}

func (nopPublisher) PublishViolation(context.Context, uuid.UUID, int, model.Violation, int) error {
	return nil
}

func (nopPublisher) PublishLifecycle(context.Context, uuid.UUID, int, string) error { return nil }

// Deps are the collaborators shared by every session on the device.
type Deps struct {
	Store     AttemptStore
	Source    ExamSource
	Local     localstore.Storage
	Queue     *autosave.OfflineQueue
	Network   netstatus.Signal
	Surface   integrity.EventSurface
	Publisher Publisher
	Clock     clockwork.Clock
	Log       zerolog.Logger
}

// Hooks are invoked from timer, network and event goroutines. They must not block and
// must not call back into the Controller synchronously.
type Hooks struct {
	OnTick       func(remaining time.Duration)
	OnSaveStatus func(autosave.Status)
	OnViolation  func(v model.Violation, count, maxWarnings int)
	OnLockdown   func(locked bool)
	OnSubmitted  func(result *model.SubmissionResult)
	OnKicked     func()
}

// Options tune one session. Zero values take the defaults.
type Options struct {
	Debounce    time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	ReplayEvery time.Duration

	TickEvery     time.Duration
	KickPollEvery time.Duration

	// IntegrityLevel and MaxWarnings apply when the schedule sets none.
	IntegrityLevel integrity.Level
	MaxWarnings    int

	Hooks Hooks
}

func (o *Options) defaults() {
	if o.TickEvery <= 0 {
		o.TickEvery = time.Second
	}
	if o.KickPollEvery <= 0 {
		o.KickPollEvery = 10 * time.Second
	}
	if o.IntegrityLevel == "" {
		o.IntegrityLevel = integrity.LevelMedium
	}
	if o.MaxWarnings <= 0 {
		o.MaxWarnings = integrity.DefaultMaxWarnings
	}
}

// SessionInit is what the UI renders after Open.
type SessionInit struct {
	Attempt     model.Attempt                    `json:"attempt"`
	Schedule    model.ScheduleWindow             `json:"schedule"`
	Questions   []model.Question                 `json:"questions"`
	Answers     map[uuid.UUID]model.AnswerRecord `json:"answers"`
	Remaining   time.Duration                    `json:"-"`
	RemainingS  int64                            `json:"remaining_seconds"`
	Resumed     bool                             `json:"resumed"`
	Integrity   integrity.Level                  `json:"integrity_level"`
	MaxWarnings int                              `json:"max_warnings"`
	// Result is set when the personal duration had already elapsed and the attempt was
	// submitted during Open.
	Result *model.SubmissionResult `json:"result,omitempty"`
}
