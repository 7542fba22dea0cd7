package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/proctor"
)

// ViolationRepository persists the proctor violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// CopyViolations bulk inserts records with COPY. Any invalid record fails the batch.
func (r *ViolationRepository) CopyViolations(ctx context.Context, batch []proctor.ViolationRecord) error {
	rows := make([][]any, 0, len(batch))
	for _, v := range batch {
		scheduleID, err := parseScheduleID(v)
		if err != nil {
			return fmt.Errorf("copy violations: %w", err)
		}
		rows = append(rows, []any{
			scheduleID, v.ExamineeID, v.Type, v.Detail, v.Count, time.UnixMilli(v.OccurredAt),
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"attempt_violations"},
		[]string{"schedule_id", "examinee_id", "type", "detail", "violation_count", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
	return classify("copy violations", err)
}

// InsertViolation inserts a single record.
func (r *ViolationRepository) InsertViolation(ctx context.Context, v proctor.ViolationRecord) error {
	scheduleID, err := parseScheduleID(v)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO attempt_violations (schedule_id, examinee_id, type, detail, violation_count, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		scheduleID, v.ExamineeID, v.Type, v.Detail, v.Count, time.UnixMilli(v.OccurredAt),
	)
	return classify("insert violation", err)
}

// ListViolations returns the violation log of one attempt, oldest first.
func (r *ViolationRepository) ListViolations(ctx context.Context, scheduleID uuid.UUID, examineeID int) ([]proctor.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, detail, violation_count, occurred_at
		 FROM attempt_violations
		 WHERE schedule_id = $1 AND examinee_id = $2
		 ORDER BY occurred_at`, scheduleID, examineeID,
	)
	if err != nil {
		return nil, classify("list violations", err)
	}
	defer rows.Close()

	var out []proctor.ViolationRecord
	for rows.Next() {
		v := proctor.ViolationRecord{ScheduleID: scheduleID.String(), ExamineeID: examineeID}
		var at time.Time
		if err := rows.Scan(&v.Type, &v.Detail, &v.Count, &at); err != nil {
			return nil, classify("scan violation", err)
		}
		v.OccurredAt = at.UnixMilli()
		out = append(out, v)
	}
	return out, classify("list violations", rows.Err())
}

func parseScheduleID(v proctor.ViolationRecord) (uuid.UUID, error) {
	id, err := uuid.Parse(v.ScheduleID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("schedule id %q: %w", v.ScheduleID, model.ErrMalformedData)
	}
	return id, nil
}
