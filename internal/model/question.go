package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionKind enumerates the supported question shapes.
type QuestionKind string

const (
	QuestionKindSingleChoice QuestionKind = "single_choice"
	QuestionKindTrueFalse    QuestionKind = "true_false"
	QuestionKindEssay        QuestionKind = "essay"
	QuestionKindMatching     QuestionKind = "matching"
)

// Objective reports whether the kind can be scored by key comparison.
func (k QuestionKind) Objective() bool {
	switch k {
	case QuestionKindSingleChoice, QuestionKindTrueFalse, QuestionKindMatching:
		return true
	}
	return false
}

// Question represents a single exam question. Immutable for the duration of an attempt.
//
// AnswerKey and answer values share one JSON shape per kind:
//   - single_choice: option index, e.g. 2
//   - true_false: boolean
//   - essay: free text (no key)
//   - matching: object of left id to right id, e.g. {"a":"3","b":"1"}
type Question struct {
	ID        uuid.UUID       `json:"id"`
	Kind      QuestionKind    `json:"kind"`
	Prompt    string          `json:"prompt"`
	ImageURL  *string         `json:"image_url,omitempty"`
	Options   json.RawMessage `json:"options,omitempty"`
	Points    float64         `json:"points"`
	AnswerKey json.RawMessage `json:"-"`
	OrderNum  int             `json:"order_num"`
}
