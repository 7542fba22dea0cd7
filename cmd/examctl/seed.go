package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-kiosk/internal/database"
	"github.com/stemsi/exstem-kiosk/internal/model"
	"github.com/stemsi/exstem-kiosk/internal/repository"
)

func newSeedCmd(a *app) *cobra.Command {
	var (
		subject  string
		duration int
		level    string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo schedule open from now for one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := database.NewPostgresPool(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer pool.Close()

			schedules := repository.NewScheduleRepository(pool)
			questions := repository.NewQuestionRepository(pool)

			now := time.Now()
			schedule := &model.ScheduleWindow{
				Subject:         subject,
				ExamType:        "UH",
				ClassName:       "XII TKJ 2",
				StartsAt:        now,
				EndsAt:          now.Add(24 * time.Hour),
				DurationMinutes: duration,
			}
			if level != "" {
				schedule.IntegrityLevel = &level
			}
			if err := schedules.Create(ctx, schedule); err != nil {
				return fmt.Errorf("create schedule: %w", err)
			}

			for i, q := range demoQuestions() {
				q.OrderNum = i + 1
				if err := questions.Create(ctx, schedule.ID, &q); err != nil {
					return fmt.Errorf("create question %d: %w", i+1, err)
				}
			}

			a.log.Info().Str("schedule_id", schedule.ID.String()).Msg("Demo schedule seeded")
			fmt.Fprintln(cmd.OutOrStdout(), schedule.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "Fisika", "schedule subject")
	cmd.Flags().IntVar(&duration, "duration", 90, "personal duration in minutes")
	cmd.Flags().StringVar(&level, "integrity", "", "integrity level override (low, medium, high)")
	return cmd
}

func demoQuestions() []model.Question {
	return []model.Question{
		{
			Kind:      model.QuestionKindSingleChoice,
			Prompt:    "Satuan SI untuk gaya adalah...",
			Options:   json.RawMessage(`["Joule","Newton","Watt","Pascal"]`),
			Points:    10,
			AnswerKey: json.RawMessage(`1`),
		},
		{
			Kind:      model.QuestionKindTrueFalse,
			Prompt:    "Kecepatan cahaya di ruang hampa lebih besar daripada di air.",
			Points:    10,
			AnswerKey: json.RawMessage(`true`),
		},
		{
			Kind:      model.QuestionKindMatching,
			Prompt:    "Pasangkan besaran dengan satuannya.",
			Options:   json.RawMessage(`{"left":{"a":"Energi","b":"Daya"},"right":{"1":"Watt","2":"Joule"}}`),
			Points:    10,
			AnswerKey: json.RawMessage(`{"a":"2","b":"1"}`),
		},
		{
			Kind:   model.QuestionKindEssay,
			Prompt: "Jelaskan hukum kekekalan energi beserta contohnya.",
			Points: 20,
		},
	}
}
