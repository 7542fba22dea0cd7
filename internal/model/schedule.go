package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleWindow identifies a bookable exam window. Read-only to the agent.
type ScheduleWindow struct {
	ID              uuid.UUID `json:"id"`
	Subject         string    `json:"subject"`
	ExamType        string    `json:"exam_type"`
	ClassName       string    `json:"class_name"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	DurationMinutes int       `json:"duration_minutes"`
	IntegrityLevel  *string   `json:"integrity_level,omitempty"`
	MaxWarnings     *int      `json:"max_warnings,omitempty"`
}

// PersonalDuration is the examinee's countdown length.
func (s ScheduleWindow) PersonalDuration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
