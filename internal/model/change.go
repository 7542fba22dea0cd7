package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PendingChange is a locally captured answer not yet acknowledged by the remote store.
type PendingChange struct {
	ScheduleID   uuid.UUID       `json:"schedule_id"`
	ExamineeID   int             `json:"examinee_id"`
	QuestionID   uuid.UUID       `json:"question_id"`
	Value        json.RawMessage `json:"value"`
	CapturedAt   time.Time       `json:"captured_at"`
	LocalVersion int64           `json:"local_version"`
}

// OfflineQueueEntry is a batch that failed to reach the remote store, waiting for replay.
type OfflineQueueEntry struct {
	ID         uuid.UUID       `json:"id"`
	ScheduleID uuid.UUID       `json:"schedule_id"`
	ExamineeID int             `json:"examinee_id"`
	Changes    []PendingChange `json:"changes"`
	Attempt    *AttemptPatch   `json:"attempt,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
}
