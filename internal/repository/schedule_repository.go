package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// ScheduleRepository reads exam schedules.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

// GetByID retrieves a schedule, or nil, nil when it does not exist.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ScheduleWindow, error) {
	s := &model.ScheduleWindow{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, subject, exam_type, class_name, starts_at, ends_at, duration_minutes,
		        integrity_level, max_warnings
		 FROM exam_schedules WHERE id = $1`, id,
	).Scan(&s.ID, &s.Subject, &s.ExamType, &s.ClassName, &s.StartsAt, &s.EndsAt, &s.DurationMinutes,
		&s.IntegrityLevel, &s.MaxWarnings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get schedule", err)
	}
	return s, nil
}

// Create inserts a schedule. Used by examctl seeding and integration tests.
func (r *ScheduleRepository) Create(ctx context.Context, s *model.ScheduleWindow) error {
	return classify("create schedule", r.pool.QueryRow(ctx,
		`INSERT INTO exam_schedules (subject, exam_type, class_name, starts_at, ends_at, duration_minutes,
		                             integrity_level, max_warnings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		s.Subject, s.ExamType, s.ClassName, s.StartsAt, s.EndsAt, s.DurationMinutes, s.IntegrityLevel, s.MaxWarnings,
	).Scan(&s.ID))
}

// ExamSource serves schedules and questions to sessions.
type ExamSource struct {
	schedules *ScheduleRepository
	questions *QuestionRepository
}

// NewExamSource combines the schedule and question repositories.
func NewExamSource(schedules *ScheduleRepository, questions *QuestionRepository) *ExamSource {
	return &ExamSource{schedules: schedules, questions: questions}
}

// GetSchedule returns the schedule, or nil, nil when it does not exist.
func (s *ExamSource) GetSchedule(ctx context.Context, scheduleID uuid.UUID) (*model.ScheduleWindow, error) {
	return s.schedules.GetByID(ctx, scheduleID)
}

// ListQuestions returns the schedule's questions in order.
func (s *ExamSource) ListQuestions(ctx context.Context, scheduleID uuid.UUID) ([]model.Question, error) {
	return s.questions.ListBySchedule(ctx, scheduleID)
}
