// Package scoring computes provisional scores for objective questions.
// Essay points are always left for a human grader.
package scoring

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// Score grades every question against the recorded answers.
// totalScore sums resolved points only; maxScore sums every question's points.
func Score(questions []model.Question, answers map[uuid.UUID]model.AnswerRecord, reason model.SubmitReason, completedAt time.Time) model.SubmissionResult {
	res := model.SubmissionResult{
		Reason:      reason,
		Breakdown:   make([]model.QuestionScore, 0, len(questions)),
		CompletedAt: completedAt,
		Provisional: true,
	}

	for _, q := range questions {
		var value json.RawMessage
		if rec, ok := answers[q.ID]; ok {
			value = rec.Value
		}

		qs := ScoreQuestion(q, value)
		res.MaxScore += qs.MaxPoints
		if qs.EarnedPoints != nil {
			res.TotalScore += *qs.EarnedPoints
		}
		res.Breakdown = append(res.Breakdown, qs)
	}

	return res
}

// ScoreQuestion grades one question. A nil or JSON-null value counts as unanswered.
func ScoreQuestion(q model.Question, value json.RawMessage) model.QuestionScore {
	qs := model.QuestionScore{
		QuestionID: q.ID,
		Kind:       q.Kind,
		Answered:   answered(value),
		MaxPoints:  q.Points,
	}

	if q.Kind == model.QuestionKindEssay || !q.Kind.Objective() {
		qs.NeedsManualGrading = true
		return qs
	}

	correct := false
	if qs.Answered {
		switch q.Kind {
		case model.QuestionKindSingleChoice:
			correct = sameInt(value, q.AnswerKey)
		case model.QuestionKindTrueFalse:
			correct = sameBool(value, q.AnswerKey)
		case model.QuestionKindMatching:
			correct = samePairs(value, q.AnswerKey)
		}
	}

	earned := 0.0
	if correct {
		earned = q.Points
	}
	qs.IsCorrect = &correct
	qs.EarnedPoints = &earned
	return qs
}

func answered(value json.RawMessage) bool {
	v := bytes.TrimSpace(value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

func sameInt(value, key json.RawMessage) bool {
	var got, want int
	if json.Unmarshal(value, &got) != nil || json.Unmarshal(key, &want) != nil {
		return false
	}
	return got == want
}

func sameBool(value, key json.RawMessage) bool {
	var got, want bool
	if json.Unmarshal(value, &got) != nil || json.Unmarshal(key, &want) != nil {
		return false
	}
	return got == want
}

// samePairs is all-or-nothing: every key pair must be present and equal, with no extras.
func samePairs(value, key json.RawMessage) bool {
	var got, want map[string]string
	if json.Unmarshal(value, &got) != nil || json.Unmarshal(key, &want) != nil {
		return false
	}
	if len(want) == 0 || len(got) != len(want) {
		return false
	}
	for left, right := range want {
		if got[left] != right {
			return false
		}
	}
	return true
}
