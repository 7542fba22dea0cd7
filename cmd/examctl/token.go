package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-kiosk/internal/auth"
	"golang.org/x/term"
)

func newTokenCmd(a *app) *cobra.Command {
	var promptSecret bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens for examinees and proctors",
	}
	cmd.PersistentFlags().BoolVar(&promptSecret, "prompt-secret", false, "read the signing secret from the terminal instead of JWT_SECRET")

	verifier := func() (*auth.Verifier, error) {
		secret := a.cfg.JWTSecret
		if promptSecret {
			fmt.Fprint(os.Stderr, "Signing secret: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return nil, fmt.Errorf("read secret: %w", err)
			}
			secret = string(raw)
		}
		if secret == "" {
			return nil, fmt.Errorf("signing secret is empty")
		}
		return auth.NewVerifier(secret, a.cfg.TokenTTL), nil
	}

	var examineeID int
	var schedule string
	examinee := &cobra.Command{
		Use:   "examinee",
		Short: "Issue an examinee token, optionally bound to one schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if examineeID <= 0 {
				return fmt.Errorf("--id is required")
			}
			var scheduleID *uuid.UUID
			if schedule != "" {
				id, err := uuid.Parse(schedule)
				if err != nil {
					return fmt.Errorf("invalid --schedule: %w", err)
				}
				scheduleID = &id
			}
			v, err := verifier()
			if err != nil {
				return err
			}
			token, err := v.IssueExaminee(examineeID, scheduleID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	examinee.Flags().IntVar(&examineeID, "id", 0, "examinee id")
	examinee.Flags().StringVar(&schedule, "schedule", "", "restrict the token to this schedule id")

	var proctorID int
	proctor := &cobra.Command{
		Use:   "proctor",
		Short: "Issue a proctor token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if proctorID <= 0 {
				return fmt.Errorf("--id is required")
			}
			v, err := verifier()
			if err != nil {
				return err
			}
			token, err := v.IssueProctor(proctorID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	proctor.Flags().IntVar(&proctorID, "id", 0, "proctor id")

	cmd.AddCommand(examinee, proctor)
	return cmd
}
