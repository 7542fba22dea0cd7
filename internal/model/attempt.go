package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. Only in_progress is live.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusGraded     AttemptStatus = "graded"
	AttemptStatusKicked     AttemptStatus = "kicked"
)

// Terminal reports whether no further transition is driven by the examinee.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptStatusInProgress
}

// AnswerRecord is the current value recorded for one question.
type AnswerRecord struct {
	Value      json.RawMessage `json:"value"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Attempt is one examinee's single try at one scheduled exam.
type Attempt struct {
	ID             uuid.UUID                  `json:"id"`
	ScheduleID     uuid.UUID                  `json:"schedule_id"`
	ExamineeID     int                        `json:"examinee_id"`
	Status         AttemptStatus              `json:"status"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
	Answers        map[uuid.UUID]AnswerRecord `json:"answers"`
	ViolationCount int                        `json:"violation_count"`
	TotalScore     *float64                   `json:"total_score,omitempty"`
	MaxScore       *float64                   `json:"max_score,omitempty"`
	SubmitReason   *SubmitReason              `json:"submit_reason,omitempty"`
}

// AttemptPatch carries the fields of an Attempt to merge remotely.
// Nil fields are left untouched by the store.
type AttemptPatch struct {
	ScheduleID     uuid.UUID      `json:"schedule_id"`
	ExamineeID     int            `json:"examinee_id"`
	Status         *AttemptStatus `json:"status,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ViolationCount *int           `json:"violation_count,omitempty"`
	TotalScore     *float64       `json:"total_score,omitempty"`
	MaxScore       *float64       `json:"max_score,omitempty"`
	SubmitReason   *SubmitReason  `json:"submit_reason,omitempty"`
}

// Empty reports whether the patch carries no field to merge.
func (p AttemptPatch) Empty() bool {
	return p.Status == nil && p.CompletedAt == nil && p.ViolationCount == nil &&
		p.TotalScore == nil && p.MaxScore == nil && p.SubmitReason == nil
}

// Merge overlays the non-nil fields of next onto p.
func (p AttemptPatch) Merge(next AttemptPatch) AttemptPatch {
	if next.Status != nil {
		p.Status = next.Status
	}
	if next.CompletedAt != nil {
		p.CompletedAt = next.CompletedAt
	}
	if next.ViolationCount != nil {
		if p.ViolationCount == nil || *next.ViolationCount > *p.ViolationCount {
			p.ViolationCount = next.ViolationCount
		}
	}
	if next.TotalScore != nil {
		p.TotalScore = next.TotalScore
	}
	if next.MaxScore != nil {
		p.MaxScore = next.MaxScore
	}
	if next.SubmitReason != nil {
		p.SubmitReason = next.SubmitReason
	}
	return p
}
