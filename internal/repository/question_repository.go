package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// QuestionRepository reads the questions of a schedule.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListBySchedule retrieves all questions for a schedule, ordered by order_num.
func (r *QuestionRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, prompt, image_url, options, points, answer_key, order_num
		 FROM questions WHERE schedule_id = $1
		 ORDER BY order_num`, scheduleID,
	)
	if err != nil {
		return nil, classify("list questions", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q       model.Question
			kind    string
			options []byte
			key     []byte
		)
		if err := rows.Scan(&q.ID, &kind, &q.Prompt, &q.ImageURL, &options, &q.Points, &key, &q.OrderNum); err != nil {
			return nil, classify("scan question", err)
		}
		q.Kind = model.QuestionKind(kind)
		q.Options = json.RawMessage(options)
		q.AnswerKey = json.RawMessage(key)
		questions = append(questions, q)
	}
	return questions, classify("list questions", rows.Err())
}

// Create inserts a question. Used by examctl seeding and integration tests.
func (r *QuestionRepository) Create(ctx context.Context, scheduleID uuid.UUID, q *model.Question) error {
	return classify("create question", r.pool.QueryRow(ctx,
		`INSERT INTO questions (schedule_id, kind, prompt, image_url, options, points, answer_key, order_num)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		scheduleID, string(q.Kind), q.Prompt, q.ImageURL, nullableJSON(q.Options), q.Points, nullableJSON(q.AnswerKey), q.OrderNum,
	).Scan(&q.ID))
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
