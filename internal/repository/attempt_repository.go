package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

const attemptColumns = `id, schedule_id, examinee_id, status, started_at, completed_at,
	violation_count, total_score, max_score, submit_reason`

// AttemptRepository is the remote attempt store.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// FindAttempt loads the attempt for (scheduleID, examineeID) with its answers.
// It returns nil, nil when none exists.
func (r *AttemptRepository) FindAttempt(ctx context.Context, scheduleID uuid.UUID, examineeID int) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE schedule_id = $1 AND examinee_id = $2`, scheduleID, examineeID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find attempt", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, value, captured_at
		 FROM attempt_answers
		 WHERE schedule_id = $1 AND examinee_id = $2`, scheduleID, examineeID,
	)
	if err != nil {
		return nil, classify("load answers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			questionID uuid.UUID
			value      []byte
			capturedAt time.Time
		)
		if err := rows.Scan(&questionID, &value, &capturedAt); err != nil {
			return nil, classify("scan answer", err)
		}
		a.Answers[questionID] = model.AnswerRecord{Value: json.RawMessage(value), RecordedAt: capturedAt}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("load answers", err)
	}
	return a, nil
}

// CreateAttempt inserts an in_progress attempt. When another device created it first,
// the existing attempt is returned instead.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, scheduleID uuid.UUID, examineeID int, startedAt time.Time) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (schedule_id, examinee_id, status, started_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (schedule_id, examinee_id) DO NOTHING
		 RETURNING `+attemptColumns,
		scheduleID, examineeID, model.AttemptStatusInProgress, startedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.FindAttempt(ctx, scheduleID, examineeID)
	}
	if err != nil {
		return nil, classify("create attempt", err)
	}
	return a, nil
}

// UpsertAttempt merges the non-nil fields of p. A kicked or graded attempt keeps its
// status and the violation count never decreases. The returned attempt has no answers.
func (r *AttemptRepository) UpsertAttempt(ctx context.Context, p model.AttemptPatch) (*model.Attempt, error) {
	var status, reason *string
	if p.Status != nil {
		s := string(*p.Status)
		status = &s
	}
	if p.SubmitReason != nil {
		s := string(*p.SubmitReason)
		reason = &s
	}

	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`INSERT INTO attempts (schedule_id, examinee_id, status, started_at, completed_at,
		                       violation_count, total_score, max_score, submit_reason)
		 VALUES ($1, $2, COALESCE($3::text, 'in_progress'), NOW(), $4, COALESCE($5::int, 0), $6, $7, $8::text)
		 ON CONFLICT (schedule_id, examinee_id) DO UPDATE SET
		   status = CASE
		     WHEN attempts.status IN ('kicked', 'graded') OR $3::text IS NULL THEN attempts.status
		     ELSE $3::text END,
		   completed_at    = COALESCE(attempts.completed_at, $4),
		   violation_count = GREATEST(attempts.violation_count, COALESCE($5::int, 0)),
		   total_score     = COALESCE($6, attempts.total_score),
		   max_score       = COALESCE($7, attempts.max_score),
		   submit_reason   = COALESCE(attempts.submit_reason, $8::text),
		   updated_at      = NOW()
		 RETURNING `+attemptColumns,
		p.ScheduleID, p.ExamineeID, status, p.CompletedAt, p.ViolationCount, p.TotalScore, p.MaxScore, reason,
	))
	if err != nil {
		return nil, classify("upsert attempt", err)
	}
	return a, nil
}

// BulkUpsertAnswers writes all changes in one statement. A stored answer is only
// replaced by a change captured at the same time or later, so replays may arrive in
// any order.
func (r *AttemptRepository) BulkUpsertAnswers(ctx context.Context, changes []model.PendingChange) error {
	if len(changes) == 0 {
		return nil
	}

	n := len(changes)
	scheduleIDs := make([]uuid.UUID, 0, n)
	examineeIDs := make([]int, 0, n)
	questionIDs := make([]uuid.UUID, 0, n)
	values := make([]string, 0, n)
	capturedAts := make([]time.Time, 0, n)

	for _, c := range changes {
		value := string(c.Value)
		if len(c.Value) == 0 {
			value = "null"
		}
		scheduleIDs = append(scheduleIDs, c.ScheduleID)
		examineeIDs = append(examineeIDs, c.ExamineeID)
		questionIDs = append(questionIDs, c.QuestionID)
		values = append(values, value)
		capturedAts = append(capturedAts, c.CapturedAt)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (schedule_id, examinee_id, question_id, value, captured_at)
		 SELECT u.schedule_id, u.examinee_id, u.question_id, u.value::jsonb, u.captured_at
		 FROM UNNEST(
		   $1::uuid[],
		   $2::int[],
		   $3::uuid[],
		   $4::text[],
		   $5::timestamptz[]
		 ) AS u (schedule_id, examinee_id, question_id, value, captured_at)
		 ON CONFLICT (schedule_id, examinee_id, question_id) DO UPDATE
		 SET value = EXCLUDED.value, captured_at = EXCLUDED.captured_at, updated_at = NOW()
		 WHERE attempt_answers.captured_at <= EXCLUDED.captured_at`,
		scheduleIDs, examineeIDs, questionIDs, values, capturedAts,
	)
	return classify("bulk upsert answers", err)
}

// GetAttemptStatus returns only the status, for kick polling.
func (r *AttemptRepository) GetAttemptStatus(ctx context.Context, scheduleID uuid.UUID, examineeID int) (model.AttemptStatus, error) {
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT status FROM attempts WHERE schedule_id = $1 AND examinee_id = $2`,
		scheduleID, examineeID,
	).Scan(&status)
	if err != nil {
		return "", classify("get attempt status", err)
	}
	return model.AttemptStatus(status), nil
}

// Kick ends an in-progress attempt on behalf of a proctor. It reports false when there
// was no in-progress attempt to end.
func (r *AttemptRepository) Kick(ctx context.Context, scheduleID uuid.UUID, examineeID int) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET status = $1, updated_at = NOW()
		 WHERE schedule_id = $2 AND examinee_id = $3 AND status = $4`,
		model.AttemptStatusKicked, scheduleID, examineeID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, classify("kick attempt", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a      model.Attempt
		status string
		reason *string
	)
	err := row.Scan(&a.ID, &a.ScheduleID, &a.ExamineeID, &status, &a.StartedAt, &a.CompletedAt,
		&a.ViolationCount, &a.TotalScore, &a.MaxScore, &reason)
	if err != nil {
		return nil, err
	}
	a.Status = model.AttemptStatus(status)
	if reason != nil {
		sr := model.SubmitReason(*reason)
		a.SubmitReason = &sr
	}
	a.Answers = make(map[uuid.UUID]model.AnswerRecord)
	return &a, nil
}
