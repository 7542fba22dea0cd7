package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/integrity"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer  Action = "answer"
	ActionFlag    Action = "flag"
	ActionSubmit  Action = "submit"
	ActionEnv     Action = "env"
	ActionMetrics Action = "metrics"
	ActionUnload  Action = "unload"
	ActionPing    Action = "ping"
)

// AnswerRequest records the current value of one question.
type AnswerRequest struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id" validate:"required,uuid"`
	Value      json.RawMessage `json:"value" validate:"required"`
}

// FlagRequest toggles the review mark of one question.
type FlagRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" validate:"required,uuid"`
}

// EnvRequest forwards one browser environment event.
type EnvRequest struct {
	Action Action           `json:"action"`
	Seq    int64            `json:"seq"`
	Event  *integrity.Event `json:"event" validate:"required"`
}

// MetricsRequest reports the current window geometry.
type MetricsRequest struct {
	Action  Action                   `json:"action"`
	Metrics *integrity.WindowMetrics `json:"metrics" validate:"required"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventInit       Event = "init"
	EventTick       Event = "tick"
	EventState      Event = "state"
	EventSaveStatus Event = "save_status"
	EventViolation  Event = "violation"
	EventLockdown   Event = "lockdown"
	EventSelection  Event = "selection"
	EventEnvAck     Event = "env_ack"
	EventSubmitted  Event = "submitted"
	EventKicked     Event = "kicked"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

type InitResponse struct {
	Event   Event       `json:"event"`
	Session interface{} `json:"session"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// StateResponse answers answer/flag actions with the examinee's current view.
type StateResponse struct {
	Event      Event    `json:"event"`
	QuestionID string   `json:"question_id"`
	Answered   bool     `json:"answered"`
	Flagged    bool     `json:"flagged"`
	Flags      []string `json:"flags"`
}

type SaveStatusResponse struct {
	Event  Event           `json:"event"`
	Status autosave.Status `json:"status"`
}

type ViolationResponse struct {
	Event       Event           `json:"event"`
	Violation   model.Violation `json:"violation"`
	Count       int             `json:"count"`
	MaxWarnings int             `json:"max_warnings"`
}

type LockdownResponse struct {
	Event  Event `json:"event"`
	Locked bool  `json:"locked"`
}

type SelectionResponse struct {
	Event   Event `json:"event"`
	Enabled bool  `json:"enabled"`
}

type EnvAckResponse struct {
	Event     Event `json:"event"`
	Seq       int64 `json:"seq"`
	Prevented bool  `json:"prevented"`
}

type SubmittedResponse struct {
	Event  Event                   `json:"event"`
	Result *model.SubmissionResult `json:"result"`
}

type KickedResponse struct {
	Event Event `json:"event"`
}

type ErrorResponse struct {
	Event   Event             `json:"event"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
