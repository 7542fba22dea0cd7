package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-kiosk/internal/autosave"
	"github.com/stemsi/exstem-kiosk/internal/database"
	"github.com/stemsi/exstem-kiosk/internal/repository"
)

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or replay the offline queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, closeLocal, err := a.openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLocal()

			entries := autosave.NewOfflineQueue(local, a.log).Entries()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSCHEDULE\tEXAMINEE\tCHANGES\tATTEMPT\tQUEUED AT")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%s\n",
					e.ID, e.ScheduleID, e.ExamineeID, len(e.Changes), e.Attempt != nil,
					e.QueuedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Push queued batches to the attempt store now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			local, closeLocal, err := a.openLocal(ctx)
			if err != nil {
				return err
			}
			defer closeLocal()

			pool, err := database.NewPostgresPool(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("attempt store unreachable: %w", err)
			}

			queue := autosave.NewOfflineQueue(local, a.log)
			replayed, err := queue.Replay(ctx, repository.NewAttemptRepository(pool))
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, remaining %d\n", replayed, queue.Len())
			return err
		},
	})

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every queued batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			local, closeLocal, err := a.openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer closeLocal()

			queue := autosave.NewOfflineQueue(local, a.log)
			n := queue.Len()
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
				return nil
			}
			if !yes && !confirm(fmt.Sprintf("Drop %d unsynced batches? This loses answers. [y/N]: ", n)) {
				return fmt.Errorf("aborted")
			}
			if err := queue.Clear(); err != nil {
				return err
			}
			a.log.Warn().Int("count", n).Msg("Offline queue cleared by operator")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(clearCmd)

	return cmd
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
