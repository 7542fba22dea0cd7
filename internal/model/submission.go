package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmitReason records why an attempt left in_progress.
type SubmitReason string

const (
	SubmitManual         SubmitReason = "manual"
	SubmitTimeout        SubmitReason = "timeout"
	SubmitViolationLimit SubmitReason = "violation_limit"
	SubmitKicked         SubmitReason = "kicked"
)

// QuestionScore is the provisional outcome for one question.
type QuestionScore struct {
	QuestionID         uuid.UUID    `json:"question_id"`
	Kind               QuestionKind `json:"kind"`
	Answered           bool         `json:"answered"`
	IsCorrect          *bool        `json:"is_correct,omitempty"`
	EarnedPoints       *float64     `json:"earned_points"`
	MaxPoints          float64      `json:"max_points"`
	NeedsManualGrading bool         `json:"needs_manual_grading"`
}

// SubmissionResult is the provisional score computed locally at submission.
// Essay points are unresolved until graded externally.
type SubmissionResult struct {
	Reason      SubmitReason    `json:"reason"`
	TotalScore  float64         `json:"total_score"`
	MaxScore    float64         `json:"max_score"`
	Breakdown   []QuestionScore `json:"breakdown"`
	CompletedAt time.Time       `json:"completed_at"`
	Provisional bool            `json:"provisional"`
}
